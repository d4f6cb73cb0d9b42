package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ResultStatus is the lifecycle state of a per-item stage result.
type ResultStatus string

const (
	ResultPending ResultStatus = "pending"
	ResultSuccess ResultStatus = "success"
	ResultFailed  ResultStatus = "failed"
)

// RetrieverStatus is the lifecycle state of a retriever build artifact.
type RetrieverStatus string

const (
	RetrieverPending    RetrieverStatus = "pending"
	RetrieverBuilding   RetrieverStatus = "building"
	RetrieverActive     RetrieverStatus = "active"
	RetrieverFailed     RetrieverStatus = "failed"
	RetrieverDeprecated RetrieverStatus = "deprecated"
)

// FileStatus marks whether a source file participates in builds.
type FileStatus string

const (
	FileActive  FileStatus = "active"
	FileDeleted FileStatus = "deleted"
)

// ConfigStatus marks whether a pipeline config may be referenced by new
// retrievers.
type ConfigStatus string

const (
	ConfigActive   ConfigStatus = "active"
	ConfigDisabled ConfigStatus = "disabled"
)

// JSONMap stores free-form metadata as a JSON column.
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported JSONMap source type %T", value)
	}
	return json.Unmarshal(data, m)
}

// Library groups source files indexed together.
type Library struct {
	ID          string    `json:"id" gorm:"primaryKey;size:36"`
	Name        string    `json:"name" gorm:"size:255;uniqueIndex"`
	Description string    `json:"description" gorm:"size:1024"`
	CreatedAt   time.Time `json:"created_at"`
}

func (Library) TableName() string { return "libraries" }

// SourceFile is an immutable reference to uploaded raw content.
type SourceFile struct {
	ID        string     `json:"id" gorm:"primaryKey;size:36"`
	LibraryID string     `json:"library_id" gorm:"size:36;index"`
	Name      string     `json:"name" gorm:"size:512"`
	MimeType  string     `json:"mime_type" gorm:"size:128"`
	Bucket    string     `json:"bucket" gorm:"size:128"`
	ObjectKey string     `json:"object_key" gorm:"size:512"`
	Size      int64      `json:"size"`
	Status    FileStatus `json:"status" gorm:"size:16;index;default:active"`
	CreatedAt time.Time  `json:"created_at"`
}

func (SourceFile) TableName() string { return "source_files" }

// ParserConfig is a named parser configuration.
type ParserConfig struct {
	ID        string       `json:"id" gorm:"primaryKey;size:36"`
	Name      string       `json:"name" gorm:"size:255;uniqueIndex"`
	Type      string       `json:"type" gorm:"size:32"`
	Params    JSONMap      `json:"params" gorm:"type:text"`
	Status    ConfigStatus `json:"status" gorm:"size:16;default:active"`
	CreatedAt time.Time    `json:"created_at"`
}

func (ParserConfig) TableName() string { return "parser_configs" }

// ChunkerConfig is a named chunker configuration.
type ChunkerConfig struct {
	ID        string       `json:"id" gorm:"primaryKey;size:36"`
	Name      string       `json:"name" gorm:"size:255;uniqueIndex"`
	Strategy  string       `json:"strategy" gorm:"size:32"`
	Size      int          `json:"size"`
	Overlap   int          `json:"overlap"`
	Params    JSONMap      `json:"params" gorm:"type:text"`
	Status    ConfigStatus `json:"status" gorm:"size:16;default:active"`
	CreatedAt time.Time    `json:"created_at"`
}

func (ChunkerConfig) TableName() string { return "chunker_configs" }

// IndexConfig is a named vector index configuration.
type IndexConfig struct {
	ID        string       `json:"id" gorm:"primaryKey;size:36"`
	Name      string       `json:"name" gorm:"size:255;uniqueIndex"`
	Provider  string       `json:"provider" gorm:"size:32"`
	Embedder  string       `json:"embedder" gorm:"size:128"`
	Metric    string       `json:"metric" gorm:"size:16"`
	Dimension int          `json:"dimension"`
	StoreText bool         `json:"store_text" gorm:"default:true"`
	Params    JSONMap      `json:"params" gorm:"type:text"`
	Status    ConfigStatus `json:"status" gorm:"size:16;default:active"`
	CreatedAt time.Time    `json:"created_at"`
}

func (IndexConfig) TableName() string { return "index_configs" }

// ParseResult records the outcome of parsing one file with one parser
// config. At most one row exists per (file, parser) pair.
type ParseResult struct {
	ID          string       `json:"id" gorm:"primaryKey;size:36"`
	FileID      string       `json:"file_id" gorm:"size:36;uniqueIndex:idx_parse_key"`
	ParserID    string       `json:"parser_id" gorm:"size:36;uniqueIndex:idx_parse_key"`
	Status      ResultStatus `json:"status" gorm:"size:16;index"`
	Bucket      string       `json:"bucket" gorm:"size:128"`
	ObjectKey   string       `json:"object_key" gorm:"size:512"`
	Error       string       `json:"error" gorm:"size:2048"`
	Meta        JSONMap      `json:"meta" gorm:"type:text"`
	CompletedAt *time.Time   `json:"completed_at"`
	CreatedAt   time.Time    `json:"created_at"`
}

func (ParseResult) TableName() string { return "parse_results" }

// ChunkResult records the outcome of chunking one successful parse result
// with one chunker config. At most one row exists per (parse result,
// chunker) pair.
type ChunkResult struct {
	ID            string       `json:"id" gorm:"primaryKey;size:36"`
	ParseResultID string       `json:"parse_result_id" gorm:"size:36;uniqueIndex:idx_chunk_key"`
	ChunkerID     string       `json:"chunker_id" gorm:"size:36;uniqueIndex:idx_chunk_key"`
	FileID        string       `json:"file_id" gorm:"size:36;index"`
	Status        ResultStatus `json:"status" gorm:"size:16;index"`
	Bucket        string       `json:"bucket" gorm:"size:128"`
	ObjectKey     string       `json:"object_key" gorm:"size:512"`
	Error         string       `json:"error" gorm:"size:2048"`
	Meta          JSONMap      `json:"meta" gorm:"type:text"`
	CompletedAt   *time.Time   `json:"completed_at"`
	CreatedAt     time.Time    `json:"created_at"`
}

func (ChunkResult) TableName() string { return "chunk_results" }

// Retriever is the build artifact tying a library to a parser, chunker, and
// index config, plus the resulting collection.
type Retriever struct {
	ID             string          `json:"id" gorm:"primaryKey;size:36"`
	Name           string          `json:"name" gorm:"size:255;uniqueIndex"`
	Description    string          `json:"description" gorm:"size:1024"`
	LibraryID      string          `json:"library_id" gorm:"size:36;index"`
	ParserID       string          `json:"parser_id" gorm:"size:36"`
	ChunkerID      string          `json:"chunker_id" gorm:"size:36"`
	IndexID        string          `json:"index_id" gorm:"size:36"`
	TopK           int             `json:"top_k" gorm:"default:10"`
	CollectionName string          `json:"collection_name" gorm:"size:255"`
	Status         RetrieverStatus `json:"status" gorm:"size:16;index"`
	PointCount     int64           `json:"point_count"`
	Error          string          `json:"error" gorm:"size:2048"`
	IndexedAt      *time.Time      `json:"indexed_at"`
	CreatedAt      time.Time       `json:"created_at"`
}

func (Retriever) TableName() string { return "retrievers" }
