package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// SourceCitation 标识回答引用的文档片段。
type SourceCitation struct {
	DocID      string `json:"doc_id"`
	Filename   string `json:"filename"`
	ChunkIndex int    `json:"chunk_index"`
	PageNumber *int   `json:"page_number,omitempty"`
}

// Equal 按全部字段比较；page_number 一个有一个没有时视为不同。
func (c SourceCitation) Equal(o SourceCitation) bool {
	if c.DocID != o.DocID || c.Filename != o.Filename || c.ChunkIndex != o.ChunkIndex {
		return false
	}
	if c.PageNumber == nil || o.PageNumber == nil {
		return c.PageNumber == nil && o.PageNumber == nil
	}
	return *c.PageNumber == *o.PageNumber
}

// Sources 是助手消息的来源：要么是引用列表，要么是错误标记 [{"error": "..."}]。
type Sources struct {
	Citations []SourceCitation
	Err       string
}

func CitationSources(citations []SourceCitation) Sources {
	return Sources{Citations: citations}
}

func ErrorSources(msg string) Sources {
	return Sources{Err: msg}
}

func (s Sources) IsError() bool { return s.Err != "" }

func (s Sources) MarshalJSON() ([]byte, error) {
	if s.IsError() {
		return json.Marshal([]map[string]string{{"error": s.Err}})
	}
	if s.Citations == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.Citations)
}

func (s *Sources) UnmarshalJSON(data []byte) error {
	*s = Sources{}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	if len(items) == 1 {
		var marker struct {
			Error *string `json:"error"`
		}
		if err := json.Unmarshal(items[0], &marker); err == nil && marker.Error != nil {
			s.Err = *marker.Error
			return nil
		}
	}
	return json.Unmarshal(data, &s.Citations)
}

// Value 实现 driver.Valuer，以 JSON 存储。
func (s Sources) Value() (driver.Value, error) {
	b, err := s.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan 实现 sql.Scanner。
func (s *Sources) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*s = Sources{}
		return nil
	case []byte:
		return s.UnmarshalJSON(v)
	case string:
		return s.UnmarshalJSON([]byte(v))
	default:
		return fmt.Errorf("cannot scan %T into Sources", src)
	}
}
