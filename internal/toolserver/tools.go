package toolserver

import (
	"context"
	"fmt"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dshills/mcpbridge/internal/alfresco"
)

type listRootInput struct {
	MaxItems int `json:"max_items,omitempty" jsonschema:"Maximum number of children to return (default 100)"`
}

type nodeChildrenInput struct {
	NodeID   string `json:"node_id" jsonschema:"Id of the folder node"`
	MaxItems int    `json:"max_items,omitempty" jsonschema:"Maximum number of children to return (default 100)"`
}

type createFolderInput struct {
	Name        string `json:"name" jsonschema:"Name of the new folder"`
	ParentID    string `json:"parent_id,omitempty" jsonschema:"Id of the parent folder (default -root-)"`
	Title       string `json:"title,omitempty" jsonschema:"Optional cm:title property"`
	Description string `json:"description,omitempty" jsonschema:"Optional cm:description property"`
}

type deleteNodeInput struct {
	NodeID    string `json:"node_id" jsonschema:"Id of the node to delete"`
	Permanent bool   `json:"permanent,omitempty" jsonschema:"Skip the trash can"`
}

type nodeInfoInput struct {
	NodeID string `json:"node_id" jsonschema:"Id of the node"`
}

type browseInput struct {
	Path string `json:"path" jsonschema:"Slash separated folder names, / for the root"`
}

type findByNameInput struct {
	Name     string `json:"name" jsonschema:"Exact node name"`
	ParentID string `json:"parent_id,omitempty" jsonschema:"Folder to search (default -root-)"`
}

func textResult(text string) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
	}
}

func (s *Server) handleListRootChildren(ctx context.Context, _ *mcpsdk.CallToolRequest, in listRootInput) (*mcpsdk.CallToolResult, alfresco.Listing, error) {
	listing, err := s.repo.ListRootChildren(ctx, in.MaxItems)
	if err != nil {
		return nil, alfresco.Listing{}, err
	}
	return textResult(listing.Summary()), listing, nil
}

func (s *Server) handleGetNodeChildren(ctx context.Context, _ *mcpsdk.CallToolRequest, in nodeChildrenInput) (*mcpsdk.CallToolResult, alfresco.Listing, error) {
	nodeID := strings.TrimSpace(in.NodeID)
	if nodeID == "" {
		return nil, alfresco.Listing{}, fmt.Errorf("%w: node_id is required", alfresco.ErrInvalidArgument)
	}
	listing, err := s.repo.NodeChildren(ctx, nodeID, in.MaxItems)
	if err != nil {
		return nil, alfresco.Listing{}, err
	}
	return textResult(listing.Summary()), listing, nil
}

func (s *Server) handleCreateFolder(ctx context.Context, _ *mcpsdk.CallToolRequest, in createFolderInput) (*mcpsdk.CallToolResult, alfresco.Created, error) {
	created, err := s.repo.CreateFolder(ctx, in.Name, strings.TrimSpace(in.ParentID), in.Title, in.Description)
	if err != nil {
		return nil, alfresco.Created{}, err
	}
	return textResult(created.Message), created, nil
}

func (s *Server) handleDeleteNode(ctx context.Context, _ *mcpsdk.CallToolRequest, in deleteNodeInput) (*mcpsdk.CallToolResult, alfresco.Deleted, error) {
	nodeID := strings.TrimSpace(in.NodeID)
	if nodeID == "" {
		return nil, alfresco.Deleted{}, fmt.Errorf("%w: node_id is required", alfresco.ErrInvalidArgument)
	}
	deleted, err := s.repo.DeleteNode(ctx, nodeID, in.Permanent)
	if err != nil {
		return nil, alfresco.Deleted{}, err
	}
	return textResult(deleted.Message), deleted, nil
}

func (s *Server) handleGetNodeInfo(ctx context.Context, _ *mcpsdk.CallToolRequest, in nodeInfoInput) (*mcpsdk.CallToolResult, alfresco.Node, error) {
	nodeID := strings.TrimSpace(in.NodeID)
	if nodeID == "" {
		return nil, alfresco.Node{}, fmt.Errorf("%w: node_id is required", alfresco.ErrInvalidArgument)
	}
	node, err := s.repo.NodeInfo(ctx, nodeID)
	if err != nil {
		return nil, alfresco.Node{}, err
	}
	return textResult(describeNode(node)), node, nil
}

func (s *Server) handleBrowseByPath(ctx context.Context, _ *mcpsdk.CallToolRequest, in browseInput) (*mcpsdk.CallToolResult, alfresco.Listing, error) {
	listing, err := s.repo.BrowseByPath(ctx, in.Path)
	if err != nil {
		return nil, alfresco.Listing{}, err
	}
	return textResult(listing.Summary()), listing, nil
}

func (s *Server) handleFindNodeByName(ctx context.Context, _ *mcpsdk.CallToolRequest, in findByNameInput) (*mcpsdk.CallToolResult, alfresco.Node, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, alfresco.Node{}, fmt.Errorf("%w: name is required", alfresco.ErrInvalidArgument)
	}
	node, err := s.repo.FindByName(ctx, name, strings.TrimSpace(in.ParentID))
	if err != nil {
		return nil, alfresco.Node{}, err
	}
	return textResult(fmt.Sprintf("Found %s [%s] (ID: %s)", node.Name, node.Type, node.ID)), node, nil
}

// describeNode renders the fields of a node that are set, one per line.
func describeNode(n alfresco.Node) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] (ID: %s)", n.Name, n.Type, n.ID)
	field := func(label, value string) {
		if value != "" {
			fmt.Fprintf(&b, "\n%s: %s", label, value)
		}
	}
	field("Node type", n.NodeType)
	field("Parent", n.ParentID)
	field("Path", n.Path)
	field("Title", n.Title)
	field("Description", n.Description)
	field("MIME type", n.MimeType)
	if n.Size > 0 {
		fmt.Fprintf(&b, "\nSize: %d bytes", n.Size)
	}
	if !n.CreatedAt.IsZero() {
		field("Created", n.CreatedAt.Format("2006-01-02 15:04:05")+byline(n.CreatedBy))
	}
	if !n.ModifiedAt.IsZero() {
		field("Modified", n.ModifiedAt.Format("2006-01-02 15:04:05")+byline(n.ModifiedBy))
	}
	return b.String()
}

func byline(user string) string {
	if user == "" {
		return ""
	}
	return " by " + user
}
