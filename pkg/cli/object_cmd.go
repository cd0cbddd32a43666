package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
)

// normalizePath validates an object or scope path argument. Paths always
// start at a bucket, e.g. /buckets/blog/collections/posts/records/42.
func normalizePath(arg string) (string, error) {
	p := "/" + strings.Trim(arg, "/")
	if !strings.HasPrefix(p, "/buckets/") {
		return "", fmt.Errorf("path must start with /buckets/, got %q", arg)
	}
	return p, nil
}

// parseEnvelope builds the request body from --data and --permissions flags.
func parseEnvelope(data, permissions string) (map[string]interface{}, error) {
	body := map[string]interface{}{}
	if data != "" {
		var d map[string]interface{}
		if err := json.Unmarshal([]byte(data), &d); err != nil {
			return nil, fmt.Errorf("invalid --data JSON: %w", err)
		}
		body["data"] = d
	}
	if permissions != "" {
		var p map[string][]string
		if err := json.Unmarshal([]byte(permissions), &p); err != nil {
			return nil, fmt.Errorf("invalid --permissions JSON: %w", err)
		}
		body["permissions"] = p
	}
	return body, nil
}

// conditionalHeaders builds If-Match / If-None-Match headers from flags.
func conditionalHeaders(ifMatch string, ifNoneMatch bool) map[string]string {
	headers := map[string]string{}
	if ifMatch != "" {
		headers["If-Match"] = ifMatch
	}
	if ifNoneMatch {
		headers["If-None-Match"] = "*"
	}
	return headers
}

// syncQuery appends _since/_before/_limit parameters to a scope path.
func syncQuery(path string, since, before int64, limit int) string {
	q := url.Values{}
	if since >= 0 {
		q.Set("_since", fmt.Sprintf("%d", since))
	}
	if before >= 0 {
		q.Set("_before", fmt.Sprintf("%d", before))
	}
	if limit > 0 {
		q.Set("_limit", fmt.Sprintf("%d", limit))
	}
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}

func newGetCmd(client *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "get <path>",
		Short: "Fetch a single object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := normalizePath(args[0])
			if err != nil {
				return err
			}
			body, err := client.Do(http.MethodGet, path, nil, nil)
			if err != nil {
				return err
			}
			return printJSON(cmd, body)
		},
	}
}

func newListCmd(client *Client) *cobra.Command {
	var (
		since  int64
		before int64
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list <scope>",
		Short: "List the objects in a scope",
		Long:  "List the objects in a plural scope, e.g. /buckets/blog/collections/posts/records. With --since, tombstones of deleted objects are included.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := normalizePath(args[0])
			if err != nil {
				return err
			}
			body, err := client.Do(http.MethodGet, syncQuery(path, since, before, limit), nil, nil)
			if err != nil {
				return err
			}
			return printJSON(cmd, body)
		},
	}
	cmd.Flags().Int64Var(&since, "since", -1, "Only objects modified after this timestamp (includes tombstones)")
	cmd.Flags().Int64Var(&before, "before", -1, "Only objects modified before this timestamp")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of objects")
	return cmd
}

func newPutCmd(client *Client) *cobra.Command {
	var (
		data        string
		permissions string
		ifMatch     string
		ifNoneMatch bool
	)
	cmd := &cobra.Command{
		Use:   "put <path>",
		Short: "Create or replace an object at a known id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := normalizePath(args[0])
			if err != nil {
				return err
			}
			body, err := parseEnvelope(data, permissions)
			if err != nil {
				return err
			}
			resp, err := client.Do(http.MethodPut, path, body, conditionalHeaders(ifMatch, ifNoneMatch))
			if err != nil {
				return err
			}
			return printJSON(cmd, resp)
		},
	}
	cmd.Flags().StringVarP(&data, "data", "d", "", "Object attributes as JSON")
	cmd.Flags().StringVar(&permissions, "permissions", "", "Permissions map as JSON")
	cmd.Flags().StringVar(&ifMatch, "if-match", "", "Only apply if the current ETag matches")
	cmd.Flags().BoolVar(&ifNoneMatch, "if-none-match", false, "Only apply if the object does not exist")
	return cmd
}

func newCreateCmd(client *Client) *cobra.Command {
	var (
		data        string
		permissions string
	)
	cmd := &cobra.Command{
		Use:   "create <scope>",
		Short: "Create an object under a server-generated id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := normalizePath(args[0])
			if err != nil {
				return err
			}
			body, err := parseEnvelope(data, permissions)
			if err != nil {
				return err
			}
			resp, err := client.Do(http.MethodPost, path, body, nil)
			if err != nil {
				return err
			}
			return printJSON(cmd, resp)
		},
	}
	cmd.Flags().StringVarP(&data, "data", "d", "", "Object attributes as JSON")
	cmd.Flags().StringVar(&permissions, "permissions", "", "Permissions map as JSON")
	return cmd
}

func newPatchCmd(client *Client) *cobra.Command {
	var (
		data        string
		permissions string
		ifMatch     string
	)
	cmd := &cobra.Command{
		Use:   "patch <path>",
		Short: "Merge attributes into an existing object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := normalizePath(args[0])
			if err != nil {
				return err
			}
			body, err := parseEnvelope(data, permissions)
			if err != nil {
				return err
			}
			resp, err := client.Do(http.MethodPatch, path, body, conditionalHeaders(ifMatch, false))
			if err != nil {
				return err
			}
			return printJSON(cmd, resp)
		},
	}
	cmd.Flags().StringVarP(&data, "data", "d", "", "Attributes to merge as JSON")
	cmd.Flags().StringVar(&permissions, "permissions", "", "Permission entries to replace as JSON")
	cmd.Flags().StringVar(&ifMatch, "if-match", "", "Only apply if the current ETag matches")
	return cmd
}

func newDeleteCmd(client *Client) *cobra.Command {
	var (
		ifMatch string
		since   int64
		before  int64
	)
	cmd := &cobra.Command{
		Use:   "delete <path>",
		Short: "Delete an object, or every object in a plural scope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := normalizePath(args[0])
			if err != nil {
				return err
			}
			resp, err := client.Do(http.MethodDelete, syncQuery(path, since, before, 0), nil, conditionalHeaders(ifMatch, false))
			if err != nil {
				return err
			}
			return printJSON(cmd, resp)
		},
	}
	cmd.Flags().StringVar(&ifMatch, "if-match", "", "Only apply if the current ETag matches")
	cmd.Flags().Int64Var(&since, "since", -1, "Bulk delete: only objects modified after this timestamp")
	cmd.Flags().Int64Var(&before, "before", -1, "Bulk delete: only objects modified before this timestamp")
	return cmd
}
