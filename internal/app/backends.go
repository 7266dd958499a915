package app

// Storage backends register themselves with docstore on import.
import (
	_ "github.com/docsql/docsql/internal/docstore/dynamostore"
	_ "github.com/docsql/docsql/internal/docstore/mongostore"
	_ "github.com/docsql/docsql/internal/docstore/redisstore"
	_ "github.com/docsql/docsql/internal/docstore/s3store"
	_ "github.com/docsql/docsql/internal/docstore/sqlstore"
)
