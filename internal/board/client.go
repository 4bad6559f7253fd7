// Package board is the client for the remote board's GraphQL API.
//
// The board is treated as a single table of items, each holding a fixed set
// of named cells. The client reads one page of items per call and writes one
// cell per call. It never retries: every failure surfaces as
// ErrRemoteUnavailable and the caller decides what to do.
package board

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hyperengineering/boardsync/internal/types"
)

// ErrRemoteUnavailable wraps every timeout, transport failure, non-2xx status
// and malformed or error-bearing response from the board.
var ErrRemoteUnavailable = errors.New("board unavailable")

const (
	DefaultAPIURL     = "https://api.monday.com/v2"
	DefaultAPIVersion = "2024-01"
	DefaultPageSize   = 500
	DefaultTimeout    = 15 * time.Second

	maxResponseBytes = 16 << 20
)

const itemsPageQuery = `query ($board: [ID!], $limit: Int!) {
  boards(ids: $board) {
    items_page(limit: $limit) {
      cursor
      items {
        id
        name
        column_values { id text value }
      }
    }
  }
}`

const changeValueMutation = `mutation ($board: ID!, $item: ID!, $column: String!, $value: String) {
  change_simple_column_value(board_id: $board, item_id: $item, column_id: $column, value: $value) { id }
}`

// Options configures a Client. Zero values fall back to the defaults above.
type Options struct {
	APIURL     string
	APIKey     string
	APIVersion string
	PageSize   int
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client issues queries and mutations against the board API.
type Client struct {
	apiURL     string
	apiKey     string
	apiVersion string
	pageSize   int
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient creates a board client.
func NewClient(opts Options) *Client {
	apiURL := strings.TrimRight(strings.TrimSpace(opts.APIURL), "/")
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	apiVersion := strings.TrimSpace(opts.APIVersion)
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		apiURL:     apiURL,
		apiKey:     strings.TrimSpace(opts.APIKey),
		apiVersion: apiVersion,
		pageSize:   pageSize,
		timeout:    timeout,
		httpClient: httpClient,
	}
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type graphQLResponse struct {
	Data         json.RawMessage `json:"data"`
	Errors       []graphQLError  `json:"errors"`
	ErrorMessage string          `json:"error_message"`
	ErrorCode    string          `json:"error_code"`
}

type itemsPageData struct {
	Boards []struct {
		ItemsPage struct {
			Cursor *string `json:"cursor"`
			Items  []struct {
				ID           string `json:"id"`
				Name         string `json:"name"`
				ColumnValues []struct {
					ID    string  `json:"id"`
					Text  *string `json:"text"`
					Value *string `json:"value"`
				} `json:"column_values"`
			} `json:"items"`
		} `json:"items_page"`
	} `json:"boards"`
}

type changeValueData struct {
	ChangeSimpleColumnValue *struct {
		ID string `json:"id"`
	} `json:"change_simple_column_value"`
}

// FetchAllRows returns the board's rows. Only the first page is fetched; when
// the board has more rows than the page size a warning is logged and the
// remainder is not returned.
func (c *Client) FetchAllRows(ctx context.Context, boardID string) ([]types.Row, error) {
	var data itemsPageData
	err := c.do(ctx, "fetch_rows", graphQLRequest{
		Query: itemsPageQuery,
		Variables: map[string]any{
			"board": []string{boardID},
			"limit": c.pageSize,
		},
	}, &data)
	if err != nil {
		return nil, err
	}
	if len(data.Boards) == 0 {
		return nil, fmt.Errorf("fetch_rows: board %s not found: %w", boardID, ErrRemoteUnavailable)
	}

	page := data.Boards[0].ItemsPage
	if page.Cursor != nil && *page.Cursor != "" {
		slog.Warn("board has more rows than one page; remaining rows ignored",
			"component", "board",
			"action", "page_truncated",
			"board_id", boardID,
			"page_size", c.pageSize,
		)
	}

	rows := make([]types.Row, 0, len(page.Items))
	for _, item := range page.Items {
		row := types.Row{
			ID:    item.ID,
			Name:  item.Name,
			Cells: make(map[string]types.Cell, len(item.ColumnValues)),
		}
		for _, cv := range item.ColumnValues {
			cell := types.Cell{ColumnID: cv.ID}
			if cv.Text != nil {
				cell.Text = *cv.Text
			}
			if cv.Value != nil {
				cell.Value = *cv.Value
			}
			row.Cells[cv.ID] = cell
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// WriteCell sets one column of one item to value.
func (c *Client) WriteCell(ctx context.Context, boardID, itemID, columnID, value string) error {
	var data changeValueData
	err := c.do(ctx, "write_cell", graphQLRequest{
		Query: changeValueMutation,
		Variables: map[string]any{
			"board":  boardID,
			"item":   itemID,
			"column": columnID,
			"value":  value,
		},
	}, &data)
	if err != nil {
		return err
	}
	if data.ChangeSimpleColumnValue == nil {
		return fmt.Errorf("write_cell: item %s: empty mutation result: %w", itemID, ErrRemoteUnavailable)
	}
	return nil
}

// do sends one GraphQL request under the client timeout and decodes data into out.
func (c *Client) do(ctx context.Context, op string, payload graphQLRequest, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("API-Version", c.apiVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %v: %w", op, err, ErrRemoteUnavailable)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%s: read response: %v: %w", op, err, ErrRemoteUnavailable)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s: status=%d body=%s: %w", op, resp.StatusCode, truncate(respBody, 256), ErrRemoteUnavailable)
	}

	var gql graphQLResponse
	if err := json.Unmarshal(respBody, &gql); err != nil {
		return fmt.Errorf("%s: malformed response: %v: %w", op, err, ErrRemoteUnavailable)
	}
	if len(gql.Errors) > 0 {
		return fmt.Errorf("%s: %s: %w", op, gql.Errors[0].Message, ErrRemoteUnavailable)
	}
	if gql.ErrorMessage != "" {
		return fmt.Errorf("%s: %s (%s): %w", op, gql.ErrorMessage, gql.ErrorCode, ErrRemoteUnavailable)
	}
	if len(gql.Data) == 0 || string(gql.Data) == "null" {
		return fmt.Errorf("%s: response has no data: %w", op, ErrRemoteUnavailable)
	}
	if err := json.Unmarshal(gql.Data, out); err != nil {
		return fmt.Errorf("%s: malformed data: %v: %w", op, err, ErrRemoteUnavailable)
	}
	return nil
}

func truncate(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
