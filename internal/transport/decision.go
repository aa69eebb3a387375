package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/pocketcode/chatcore/internal/permission"
)

// HTTPDecisionSender posts permission decisions to the server at {BaseURL}/session/{sessionID}/permissions/{permissionID}.
type HTTPDecisionSender struct {
	BaseURL    string
	Directory  string
	HTTPClient *http.Client // nil uses http.DefaultClient
}

type decisionBody struct {
	Response string `json:"response"`
	CallID   string `json:"callID,omitempty"`
}

func (h *HTTPDecisionSender) SendDecision(ctx context.Context, r permission.Reply) error {
	u, err := eventURL(h.BaseURL, "/session/"+url.PathEscape(r.SessionID)+"/permissions/"+url.PathEscape(r.PermissionID), h.Directory)
	if err != nil {
		return err
	}
	body, err := json.Marshal(decisionBody{Response: string(r.Decision), CallID: r.CallID})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := h.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	res, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("transport: send decision: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("transport: send decision: %s: %s", res.Status, bytes.TrimSpace(msg))
	}
	_, _ = io.Copy(io.Discard, res.Body)
	return nil
}
