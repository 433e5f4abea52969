package dsa

import (
	"encoding/json"
	"fmt"
	"time"
)

// Item is a Girder item as returned by the archive.
type Item struct {
	ID       string                     `json:"_id"`
	Name     string                     `json:"name"`
	FolderID string                     `json:"folderId,omitempty"`
	Size     int64                      `json:"size,omitempty"`
	Meta     map[string]json.RawMessage `json:"meta,omitempty"`
}

// Folder is a Girder folder.
type Folder struct {
	ID         string `json:"_id"`
	Name       string `json:"name"`
	ParentID   string `json:"parentId"`
	ParentType string `json:"parentCollection"`
}

// AnnotationSource is the source tag stamped on every annotation this tool
// writes to the archive.
const AnnotationSource = "BDSA-Schema-Wrangler"

// LocalAnnotation is the bdsaLocal sub-document stored under the BDSA
// metadata namespace on each item. The json keys (including the
// localStainID capitalization) match what existing tooling reads back.
type LocalAnnotation struct {
	LocalCaseID    string    `json:"localCaseId"`
	LocalStainID   string    `json:"localStainID"`
	LocalRegionID  string    `json:"localRegionId"`
	CaseID         string    `json:"bdsaCaseId,omitempty"`
	StainProtocol  []string  `json:"bdsaStainProtocol"`
	RegionProtocol []string  `json:"bdsaRegionProtocol"`
	LastUpdated    time.Time `json:"lastUpdated"`
	Source         string    `json:"source"`
}

// bdsaMeta is the metadata envelope sent to the archive.
type bdsaMeta struct {
	BDSA struct {
		Local *LocalAnnotation `json:"bdsaLocal"`
	} `json:"BDSA"`
}

// LocalAnnotation extracts the bdsaLocal sub-document from an item's
// metadata, or nil when absent.
func (it *Item) LocalAnnotation() (*LocalAnnotation, error) {
	raw, ok := it.Meta["BDSA"]
	if !ok {
		return nil, nil
	}
	var envelope struct {
		Local *LocalAnnotation `json:"bdsaLocal"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("dsa: item %s: malformed BDSA metadata: %w", it.ID, err)
	}
	return envelope.Local, nil
}

// APIError is a structured failure from the archive.
type APIError struct {
	StatusCode int    `json:"status"`
	Message    string `json:"message"`
	Type       string `json:"type,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("dsa: %d %s", e.StatusCode, e.Message)
}
