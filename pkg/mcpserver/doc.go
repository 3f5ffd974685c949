// Package mcpserver exposes an agent over the Model Context Protocol.
//
// Every tool the agent may call becomes an MCP tool with the JSON Schema generated from its
// declared parameters. A call is executed as an agent task; failures come back as an error result
// whose text is the JSON error envelope {kind, message, task_id}. Task snapshots are readable
// through the atlas://tasks/{id} resource template.
package mcpserver
