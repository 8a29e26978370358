// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mcp

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
)

// Notification methods the runtime sends or recognizes.
const (
	notificationInitialized      = "notifications/initialized"
	notificationCancelled        = "notifications/cancelled"
	notificationToolsListChanged = "notifications/tools/list_changed"
	notificationMessage          = "notifications/message"
)

// JSON-RPC error codes.
const (
	RPCParseError     = -32700
	RPCInvalidRequest = -32600
	RPCMethodNotFound = -32601
	RPCInvalidParams  = -32602
	RPCInternalError  = -32603
)

// RPCError is a JSON-RPC error object returned by a peer.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("%s (code %d, data: %s)", e.Message, e.Code, string(e.Data))
	}
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

// message is the union of every JSON-RPC 2.0 frame shape.
type message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

func (m *message) hasID() bool {
	return len(m.ID) > 0 && string(m.ID) != "null"
}

func (m *message) isResponse() bool {
	return m.Method == "" && m.hasID()
}

func (m *message) isRequest() bool {
	return m.Method != "" && m.hasID()
}

func (m *message) isNotification() bool {
	return m.Method != "" && !m.hasID()
}

// numericID decodes the id of a response to one of our requests. We only send
// integer ids, but some servers echo them back as strings.
func (m *message) numericID() (int64, bool) {
	var n int64
	if err := json.Unmarshal(m.ID, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(m.ID, &s); err == nil {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

func encodeRequest(id int64, method string, params any) ([]byte, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	idRaw, _ := json.Marshal(id)
	return json.Marshal(message{JSONRPC: mcp.JSONRPC_VERSION, ID: idRaw, Method: method, Params: raw})
}

func encodeNotification(method string, params any) ([]byte, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return json.Marshal(message{JSONRPC: mcp.JSONRPC_VERSION, Method: method, Params: raw})
}

func encodeResult(id json.RawMessage, result any) ([]byte, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return json.Marshal(message{JSONRPC: mcp.JSONRPC_VERSION, ID: id, Result: raw})
}

func encodeError(id json.RawMessage, code int, msg string) ([]byte, error) {
	return json.Marshal(message{JSONRPC: mcp.JSONRPC_VERSION, ID: id, Error: &RPCError{Code: code, Message: msg}})
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	if raw, ok := params.(json.RawMessage); ok {
		return raw, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}
	return raw, nil
}

func initializeParams(clientName, clientVersion string) mcp.InitializeParams {
	return mcp.InitializeParams{
		ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
		Capabilities:    mcp.ClientCapabilities{},
		ClientInfo: mcp.Implementation{
			Name:    clientName,
			Version: clientVersion,
		},
	}
}

func decodeInitializeResult(raw json.RawMessage) (*ServerInfo, error) {
	var result mcp.InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode initialize result: %w", err)
	}
	if result.ProtocolVersion == "" {
		return nil, fmt.Errorf("initialize result has no protocol version")
	}

	info := &ServerInfo{
		Name:            result.ServerInfo.Name,
		Version:         result.ServerInfo.Version,
		ProtocolVersion: result.ProtocolVersion,
		Instructions:    result.Instructions,
	}
	caps := result.Capabilities
	if caps.Tools != nil {
		info.Capabilities.Tools = &ToolsCapability{ListChanged: caps.Tools.ListChanged}
	}
	if caps.Resources != nil {
		info.Capabilities.Resources = &ResourcesCapability{
			Subscribe:   caps.Resources.Subscribe,
			ListChanged: caps.Resources.ListChanged,
		}
	}
	if caps.Prompts != nil {
		info.Capabilities.Prompts = &PromptsCapability{ListChanged: caps.Prompts.ListChanged}
	}
	return info, nil
}

// decodeToolResult fills the payload fields of out from a tools/call result.
func decodeToolResult(raw json.RawMessage, out *ToolCallResult) error {
	result, err := mcp.ParseCallToolResult(&raw)
	if err != nil {
		return fmt.Errorf("failed to decode tool result: %w", err)
	}

	out.IsError = result.IsError
	out.Structured = result.StructuredContent
	out.Raw = raw
	out.Content = make([]ContentItem, len(result.Content))

	for i, content := range result.Content {
		item, err := convertContent(content)
		if err != nil {
			return err
		}
		out.Content[i] = item
	}
	return nil
}

func convertContent(content mcp.Content) (ContentItem, error) {
	if text, ok := mcp.AsTextContent(content); ok {
		return ContentItem{Type: text.Type, Text: text.Text}, nil
	}
	if image, ok := mcp.AsImageContent(content); ok {
		return ContentItem{Type: image.Type, Data: image.Data, MimeType: image.MIMEType}, nil
	}

	// Audio, embedded resources and resource links share these field names.
	b, err := json.Marshal(content)
	if err != nil {
		return ContentItem{}, fmt.Errorf("failed to marshal content: %w", err)
	}
	var fields struct {
		Type     string `json:"type"`
		Text     string `json:"text"`
		Data     string `json:"data"`
		MimeType string `json:"mimeType"`
		URI      string `json:"uri"`
		Resource struct {
			URI      string `json:"uri"`
			MimeType string `json:"mimeType"`
			Text     string `json:"text"`
		} `json:"resource"`
	}
	if err := json.Unmarshal(b, &fields); err != nil {
		return ContentItem{}, fmt.Errorf("failed to unmarshal content: %w", err)
	}
	item := ContentItem{
		Type:     fields.Type,
		Text:     fields.Text,
		Data:     fields.Data,
		MimeType: fields.MimeType,
		URI:      fields.URI,
	}
	if item.URI == "" && fields.Resource.URI != "" {
		item.URI = fields.Resource.URI
		item.Text = fields.Resource.Text
		item.MimeType = fields.Resource.MimeType
	}
	return item, nil
}

func decodeToolsList(raw json.RawMessage) ([]ToolDefinition, string, error) {
	var result struct {
		Tools      []ToolDefinition `json:"tools"`
		NextCursor string           `json:"nextCursor,omitempty"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, "", fmt.Errorf("failed to decode tools list: %w", err)
	}
	return result.Tools, result.NextCursor, nil
}
