package model

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

type SourceType string

const (
	SourceTypePdf      SourceType = "pdf"
	SourceTypeURL      SourceType = "url"
	SourceTypePostgres SourceType = "postgres"
)

type SourceState string

const (
	SourceStatePending    SourceState = "pending"
	SourceStateProcessing SourceState = "processing"
	SourceStateProcessed  SourceState = "processed"
	SourceStateFailed     SourceState = "failed"
)

// SourceSpec is the variant specific part of a source.
type SourceSpec interface {
	Type() SourceType
	Validate() error
}

type PdfSpec struct {
	FileKey  string `json:"file_key"`
	FileName string `json:"file_name"`
}

func (PdfSpec) Type() SourceType { return SourceTypePdf }

func (s PdfSpec) Validate() error {
	if strings.TrimSpace(s.FileKey) == "" {
		return fmt.Errorf("pdf file_key is required")
	}
	return nil
}

type URLSpec struct {
	Address string `json:"address"`
}

func (URLSpec) Type() SourceType { return SourceTypeURL }

func (s URLSpec) Validate() error {
	u, err := url.Parse(strings.TrimSpace(s.Address))
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("url must be an absolute http(s) address")
	}
	return nil
}

type PostgresSpec struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
}

func (PostgresSpec) Type() SourceType { return SourceTypePostgres }

func (s PostgresSpec) Validate() error {
	if s.Host == "" || s.User == "" || s.Database == "" {
		return fmt.Errorf("postgres host/user/database are required")
	}
	if s.Port < 0 || s.Port > 65535 {
		return fmt.Errorf("postgres port out of range")
	}
	return nil
}

type Source struct {
	ID         int64       `json:"-"`
	ExternalID string      `json:"id"`
	Name       string      `json:"name"`
	Type       SourceType  `json:"type"`
	Spec       SourceSpec  `json:"spec"`
	State      SourceState `json:"state"`
	Active     bool        `json:"active"`
	LastError  string      `json:"last_error,omitempty"`
	ClaimedAt  int64       `json:"-"`
	CreatedBy  string      `json:"created_by"`
	UpdatedBy  string      `json:"updated_by"`
	Ctime      int64       `json:"ctime"`
	Mtime      int64       `json:"mtime"`
}

func (s *Source) Processed() bool {
	return s.State == SourceStateProcessed
}

// Redacted returns a copy safe to hand to API callers.
func (s *Source) Redacted() *Source {
	out := *s
	if pg, ok := s.Spec.(PostgresSpec); ok && pg.Password != "" {
		pg.Password = "******"
		out.Spec = pg
	}
	return &out
}

func EncodeSpec(spec SourceSpec) ([]byte, error) {
	if spec == nil {
		return nil, fmt.Errorf("source spec is required")
	}
	return json.Marshal(spec)
}

func DecodeSpec(typ SourceType, raw []byte) (SourceSpec, error) {
	switch typ {
	case SourceTypePdf:
		var spec PdfSpec
		if err := json.Unmarshal(raw, &spec); err != nil {
			return nil, err
		}
		return spec, nil
	case SourceTypeURL:
		var spec URLSpec
		if err := json.Unmarshal(raw, &spec); err != nil {
			return nil, err
		}
		return spec, nil
	case SourceTypePostgres:
		var spec PostgresSpec
		if err := json.Unmarshal(raw, &spec); err != nil {
			return nil, err
		}
		return spec, nil
	default:
		return nil, fmt.Errorf("unknown source type: %s", typ)
	}
}
