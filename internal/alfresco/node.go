package alfresco

import (
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Node types reported in Node.Type.
const (
	TypeFolder = "folder"
	TypeFile   = "file"
)

// Node is a repository node, flattened from the API entry.
type Node struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	NodeType    string    `json:"node_type,omitempty"`
	ParentID    string    `json:"parent_id,omitempty"`
	Path        string    `json:"path,omitempty"`
	Size        int64     `json:"size,omitempty"`
	MimeType    string    `json:"mime_type,omitempty"`
	Encoding    string    `json:"encoding,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitzero"`
	ModifiedAt  time.Time `json:"modified_at,omitzero"`
	CreatedBy   string    `json:"created_by,omitempty"`
	ModifiedBy  string    `json:"modified_by,omitempty"`
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
}

// IsFolder reports whether the node is a folder.
func (n Node) IsFolder() bool {
	return n.Type == TypeFolder
}

// Listing is a page of children.
type Listing struct {
	ParentID string `json:"parent_id"`
	Total    int    `json:"total"`
	Items    []Node `json:"items"`
	Message  string `json:"message"`
}

// Summary renders the listing as one line per node.
func (l Listing) Summary() string {
	var b strings.Builder
	b.WriteString(l.Message)
	for _, n := range l.Items {
		fmt.Fprintf(&b, "\n- %s [%s] (ID: %s)", n.Name, n.Type, n.ID)
	}
	return b.String()
}

// Created is the result of CreateFolder.
type Created struct {
	Created    bool   `json:"created"`
	FolderID   string `json:"folder_id"`
	FolderName string `json:"folder_name"`
	ParentID   string `json:"parent_id"`
	Message    string `json:"message"`
}

// Deleted is the result of DeleteNode.
type Deleted struct {
	Deleted   bool   `json:"deleted"`
	NodeID    string `json:"node_id"`
	Permanent bool   `json:"permanent"`
	Message   string `json:"message"`
}

// timeLayouts are the timestamp formats Alfresco has been seen to emit.
var timeLayouts = []string{
	"2006-01-02T15:04:05.000-0700",
	time.RFC3339Nano,
}

func parseTime(s string) time.Time {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// parseNode reads a node entry object.
func parseNode(entry gjson.Result) Node {
	n := Node{
		ID:          entry.Get("id").String(),
		Name:        entry.Get("name").String(),
		Type:        TypeFile,
		NodeType:    entry.Get("nodeType").String(),
		ParentID:    entry.Get("parentId").String(),
		Path:        entry.Get("path.name").String(),
		Size:        entry.Get("content.sizeInBytes").Int(),
		MimeType:    entry.Get("content.mimeType").String(),
		Encoding:    entry.Get("content.encoding").String(),
		CreatedAt:   parseTime(entry.Get("createdAt").String()),
		ModifiedAt:  parseTime(entry.Get("modifiedAt").String()),
		CreatedBy:   entry.Get("createdByUser.displayName").String(),
		ModifiedBy:  entry.Get("modifiedByUser.displayName").String(),
		Title:       entry.Get(`properties.cm:title`).String(),
		Description: entry.Get(`properties.cm:description`).String(),
	}
	if entry.Get("isFolder").Bool() {
		n.Type = TypeFolder
	}
	return n
}
