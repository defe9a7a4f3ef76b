// Package alfresco is a small client for the Alfresco Content Services
// public REST API (v1). It covers the node operations the MCP tool server
// exposes: listing, browsing, lookup by name, folder creation and deletion.
package alfresco
