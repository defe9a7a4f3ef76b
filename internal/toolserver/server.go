package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/dshills/mcpbridge/internal/alfresco"
)

// Name is the implementation name reported during initialize.
const Name = "alfresco-mcp"

// Tool names.
const (
	ToolListRootChildren = "list_root_children"
	ToolGetNodeChildren  = "get_node_children"
	ToolCreateFolder     = "create_folder"
	ToolDeleteNode       = "delete_node"
	ToolGetNodeInfo      = "get_node_info"
	ToolBrowseByPath     = "browse_by_path"
	ToolFindNodeByName   = "find_node_by_name"
)

// RepositoryURI is the resource describing the connected repository.
const RepositoryURI = "alfresco://repository"

// PromptSummarizeFolder asks the model to summarise a folder's content.
const PromptSummarizeFolder = "summarize_folder"

// Repository is the subset of the Alfresco client the tools use.
type Repository interface {
	ListRootChildren(ctx context.Context, maxItems int) (alfresco.Listing, error)
	NodeChildren(ctx context.Context, nodeID string, maxItems int) (alfresco.Listing, error)
	CreateFolder(ctx context.Context, name, parentID, title, description string) (alfresco.Created, error)
	DeleteNode(ctx context.Context, nodeID string, permanent bool) (alfresco.Deleted, error)
	NodeInfo(ctx context.Context, nodeID string) (alfresco.Node, error)
	BrowseByPath(ctx context.Context, path string) (alfresco.Listing, error)
	FindByName(ctx context.Context, name, parentID string) (alfresco.Node, error)
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithVersion sets the version reported during initialize.
func WithVersion(version string) Option {
	return func(s *Server) {
		s.version = version
	}
}

// WithRepositoryInfo sets what the repository resource reports.
func WithRepositoryInfo(url, user string) Option {
	return func(s *Server) {
		s.repoURL = url
		s.repoUser = user
	}
}

// Server serves Alfresco tools over MCP.
type Server struct {
	repo     Repository
	logger   zerolog.Logger
	version  string
	repoURL  string
	repoUser string
	mcp      *mcpsdk.Server
}

// New builds a server backed by repo.
func New(repo Repository, opts ...Option) *Server {
	s := &Server{
		repo:    repo,
		logger:  zerolog.Nop(),
		version: "dev",
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "toolserver").Logger()

	s.mcp = mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    Name,
		Version: s.version,
	}, &mcpsdk.ServerOptions{
		Instructions: "Tools for browsing and managing an Alfresco content repository. " +
			"Node ids are opaque strings; use list_root_children or browse_by_path to find them.",
	})
	s.registerTools()
	s.registerResources()
	s.registerPrompts()
	return s
}

// MCP returns the underlying go-sdk server.
func (s *Server) MCP() *mcpsdk.Server {
	return s.mcp
}

// Run serves a single session on transport until it ends or ctx is done.
func (s *Server) Run(ctx context.Context, transport mcpsdk.Transport) error {
	s.logger.Info().Str("version", s.version).Msg("serving")
	err := s.mcp.Run(ctx, transport)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("serving mcp: %w", err)
	}
	return nil
}

func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        ToolListRootChildren,
		Description: "List the folders and files at the root of the repository.",
	}, withToolErrors(s.logger, ToolListRootChildren, s.handleListRootChildren))
	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        ToolGetNodeChildren,
		Description: "List the children of a folder node.",
	}, withToolErrors(s.logger, ToolGetNodeChildren, s.handleGetNodeChildren))
	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        ToolCreateFolder,
		Description: "Create a folder, by default at the repository root.",
	}, withToolErrors(s.logger, ToolCreateFolder, s.handleCreateFolder))
	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        ToolDeleteNode,
		Description: "Delete a node. Unless permanent is set the node is moved to the trash can.",
	}, withToolErrors(s.logger, ToolDeleteNode, s.handleDeleteNode))
	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        ToolGetNodeInfo,
		Description: "Show the metadata of a node: type, size, path, owner and properties.",
	}, withToolErrors(s.logger, ToolGetNodeInfo, s.handleGetNodeInfo))
	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        ToolBrowseByPath,
		Description: "List a folder given a path of folder names such as /Company Home/Sites.",
	}, withToolErrors(s.logger, ToolBrowseByPath, s.handleBrowseByPath))
	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        ToolFindNodeByName,
		Description: "Find a direct child of a folder (the root by default) by exact name.",
	}, withToolErrors(s.logger, ToolFindNodeByName, s.handleFindNodeByName))
}

func (s *Server) registerResources() {
	s.mcp.AddResource(&mcpsdk.Resource{
		URI:         RepositoryURI,
		Name:        "repository",
		Description: "The Alfresco repository this server is connected to.",
		MIMEType:    "application/json",
	}, func(_ context.Context, req *mcpsdk.ReadResourceRequest) (*mcpsdk.ReadResourceResult, error) {
		body, err := json.Marshal(map[string]string{
			"url":    s.repoURL,
			"user":   s.repoUser,
			"server": Name,
		})
		if err != nil {
			return nil, err
		}
		return &mcpsdk.ReadResourceResult{
			Contents: []*mcpsdk.ResourceContents{{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(body),
			}},
		}, nil
	})
}

func (s *Server) registerPrompts() {
	s.mcp.AddPrompt(&mcpsdk.Prompt{
		Name:        PromptSummarizeFolder,
		Description: "Summarise what a folder contains.",
		Arguments: []*mcpsdk.PromptArgument{
			{Name: "path", Description: "Folder path, / for the root", Required: true},
		},
	}, func(_ context.Context, req *mcpsdk.GetPromptRequest) (*mcpsdk.GetPromptResult, error) {
		path := strings.TrimSpace(req.Params.Arguments["path"])
		if path == "" {
			path = "/"
		}
		return &mcpsdk.GetPromptResult{
			Description: "Summarise folder " + path,
			Messages: []*mcpsdk.PromptMessage{{
				Role: "user",
				Content: &mcpsdk.TextContent{Text: fmt.Sprintf(
					"Use the %s tool with path %q, then summarise the folder: how many folders and files it holds and what they appear to be about.",
					ToolBrowseByPath, path)},
			}},
		}, nil
	})
}
