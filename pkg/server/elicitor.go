package server

import (
	"context"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	log "github.com/sirupsen/logrus"

	"github.com/jmcp-dev/jmcp/pkg/wizard"
)

// sessionElicitor adapts the MCP server session to the wizard's Elicitor:
// each prompt becomes a server-initiated elicitation request to the client.
type sessionElicitor struct {
	session *mcp.ServerSession
}

func (e *sessionElicitor) Elicit(ctx context.Context, message string, schema *jsonschema.Schema) (*wizard.Outcome, error) {
	res, err := e.session.Elicit(ctx, &mcp.ElicitParams{
		Message:         message,
		RequestedSchema: schema,
	})
	if err != nil {
		return nil, err
	}
	switch res.Action {
	case "accept":
		return &wizard.Outcome{Action: wizard.ActionAccepted, Data: res.Content}, nil
	case "decline":
		return &wizard.Outcome{Action: wizard.ActionDeclined}, nil
	default:
		return &wizard.Outcome{Action: wizard.ActionCancelled}, nil
	}
}

func (e *sessionElicitor) Notify(ctx context.Context, level, message string) {
	err := e.session.Log(ctx, &mcp.LoggingMessageParams{
		Level:  mcp.LoggingLevel(level),
		Logger: serverName,
		Data:   message,
	})
	if err != nil {
		log.Debugf("failed to send client log message: %v", err)
	}
}
