package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/osbuild/image-builder-mcp/pkg/defaults"
	"github.com/osbuild/image-builder-mcp/pkg/imagebuilder"
	"github.com/osbuild/image-builder-mcp/pkg/pagination"
)

// registerTools adds all image-builder tools to the MCP server.
func (s *Server) registerTools() {
	s.addGetOpenAPITool()
	s.addCreateBlueprintTool()
	s.addGetBlueprintsTool()
	s.addGetMoreBlueprintsTool()
	s.addGetBlueprintDetailsTool()
	s.addGetComposesTool()
	s.addGetMoreComposesTool()
	s.addGetComposeDetailsTool()
	s.addBlueprintComposeTool()
	s.addComposeTool()
}

// instrumented wraps a tool handler with per-call logging and metrics.
func (s *Server) instrumented(
	tool string,
	h func(context.Context, *mcp.CallToolRequest) (*mcp.CallToolResult, error),
) func(context.Context, *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		callID := uuid.NewString()
		start := time.Now()
		s.logger.Debug("tool call", "tool", tool, "call_id", callID)

		res, err := h(ctx, req)

		outcome := "success"
		if err != nil || (res != nil && res.IsError) {
			outcome = "error"
		}
		s.metrics.ToolCall(tool, outcome)
		s.logger.Debug("tool call finished",
			"tool", tool, "call_id", callID, "outcome", outcome, "duration", time.Since(start))
		return res, err
	}
}

// credentialsGuidance turns a credential-resolution failure into an
// instructional message the LLM relays to the end user. The wording
// depends on the transport: header-based transports receive credentials
// per request, stdio reads them from the mcp.json environment.
func (s *Server) credentialsGuidance(err error) string {
	base := "[INSTRUCTION] Tell the user that the MCP server setup is not valid! " +
		"The user should go to [https://console.redhat.com](https://console.redhat.com) to " +
		"'YOUR USER' ➡ My User Access ➡ Service Accounts create a service account and then set the "

	var how string
	if s.config.Transport == "sse" || s.config.Transport == "http" {
		how = "header variables `image-builder-client-id` and " +
			"`image-builder-client-secret` in your request.\n"
	} else {
		how = "`IMAGE_BUILDER_CLIENT_ID` and `IMAGE_BUILDER_CLIENT_SECRET` " +
			"in your mcp.json config.\n"
	}

	return base + how +
		"Here is the direct link for the user's convenience: " +
		"[" + defaults.ServiceAccountsURL + "](" + defaults.ServiceAccountsURL + ") " +
		"Come up with a detailed description of this for the user. " +
		"Only describe this, don't expose details about the tool function itself. " +
		fmt.Sprintf("Don't proceed with the request before this is fixed. Error: %v.", err)
}

// ---------------------------------------------------------------------------
// Response shaping
// ---------------------------------------------------------------------------

// pageIntro tells the LLM whether to offer fetching more entries.
func pageIntro(returned, total int) string {
	if total > returned {
		return fmt.Sprintf("Only %d out of %d returned. Ask for more if needed:", returned, total)
	}
	return fmt.Sprintf("All %d entries. There are no more.", returned)
}

// marshalRecords renders a page as the JSON array the LLM consumes.
func marshalRecords(records []pagination.Record) string {
	out := make([]map[string]any, 0, len(records))
	for _, r := range records {
		out = append(out, r.Fields)
	}
	data, _ := json.Marshal(out)
	return string(data)
}

// blueprintRecords converts the upstream blueprint summaries into
// snapshot records. reply_id is assigned later, on snapshot creation.
func blueprintRecords(client *imagebuilder.Client, blueprints []imagebuilder.Blueprint) []pagination.Record {
	records := make([]pagination.Record, 0, len(blueprints))
	for _, b := range blueprints {
		records = append(records, pagination.Record{
			UUID:    b.ID,
			Name:    b.Name,
			SortKey: b.LastModifiedAt,
			Fields: map[string]any{
				"blueprint_uuid": b.ID,
				"UI_URL":         client.BlueprintURL(b.ID),
				"name":           b.Name,
			},
		})
	}
	return records
}

// composeRecords converts the upstream compose summaries into snapshot
// records, annotating each with a link to the blueprint that created it.
func composeRecords(client *imagebuilder.Client, composes []imagebuilder.Compose) []pagination.Record {
	records := make([]pagination.Record, 0, len(composes))
	for _, c := range composes {
		blueprintID := c.BlueprintID
		blueprintURL := "N/A"
		if blueprintID == "" {
			blueprintID = "N/A"
		} else {
			blueprintURL = client.BlueprintURL(c.BlueprintID)
		}
		records = append(records, pagination.Record{
			UUID:    c.ID,
			Name:    c.ImageName,
			SortKey: c.CreatedAt,
			Fields: map[string]any{
				"compose_uuid":  c.ID,
				"blueprint_id":  blueprintID,
				"image_name":    c.ImageName,
				"blueprint_url": blueprintURL,
			},
		})
	}
	return records
}

// pageSize applies the configured fallback for missing or nonsensical
// response_size arguments.
func (s *Server) pageSize(requested int) int {
	if requested <= 0 {
		return s.config.DefaultResponseSize
	}
	return requested
}

// normalizeSearch treats the literal string "null" as no filter.
// Workaround seen in Llama 3.3 70B Instruct, which serializes an omitted
// optional argument this way.
func normalizeSearch(search string) string {
	if search == "null" {
		return ""
	}
	return search
}

// ---------------------------------------------------------------------------
// Shared argument shapes
// ---------------------------------------------------------------------------

type listArgs struct {
	ResponseSize int    `json:"response_size"`
	SearchString string `json:"search_string"`
}

var listArgsSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"response_size": map[string]any{
			"type":        "integer",
			"description": "number of items returned (use 7 as default)",
		},
		"search_string": map[string]any{
			"type":        "string",
			"description": "substring to search for in the name (optional)",
		},
	},
	"required": []string{"response_size"},
}

// ═══════════════════════════════════════════════════════════════════════════
// get_openapi — Fetch the API schema
// ═══════════════════════════════════════════════════════════════════════════

func (s *Server) addGetOpenAPITool() {
	s.mcp.AddTool(
		&mcp.Tool{
			Name:        "get_openapi",
			Title:       "Get OpenAPI spec. Use this to get details e.g for a new blueprint",
			Description: "Get OpenAPI spec. Use this to get details e.g for a new blueprint",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"response_size": map[string]any{
						"type":        "integer",
						"description": "number of items returned (use 7 as default)",
					},
				},
			},
			Annotations: &mcp.ToolAnnotations{
				ReadOnlyHint:   true,
				IdempotentHint: true,
				OpenWorldHint:  boolPtr(true),
				Title:          "Get OpenAPI spec",
			},
		},
		s.instrumented("get_openapi", s.handleGetOpenAPI),
	)
}

func (s *Server) handleGetOpenAPI(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	// response_size is accepted but unused; some clients (langflow)
	// insist on passing it to every tool.
	var args listArgs
	if err := parseArgs(req, &args); err != nil {
		return errorResult(fmt.Sprintf("Error: %v", err)), nil
	}

	raw, err := s.noauth.OpenAPI(ctx)
	if err != nil {
		return errorResult(fmt.Sprintf("Error: %v", err)), nil
	}
	return textResult(string(raw)), nil
}

// ═══════════════════════════════════════════════════════════════════════════
// create_blueprint — Create an image blueprint
// ═══════════════════════════════════════════════════════════════════════════

const createBlueprintDescription = `Start with this tool if a user wants to create an up to date, or customized linux image.
Assure that the data is according to CreateBlueprintRequest described in openapi.
Always ask the user for more details to be able to fill "data" properly before calling this.
Never come up with the data yourself.
Ask again if there is no username specified if the user wants to use a custom username.
Ask specifically if the user wants to enable registration for RHEL images.`

func (s *Server) addCreateBlueprintTool() {
	s.mcp.AddTool(
		&mcp.Tool{
			Name:        "create_blueprint",
			Title:       firstLine(createBlueprintDescription),
			Description: createBlueprintDescription,
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"data": map[string]any{
						"type":        "object",
						"description": "call the tool get_openapi and format the data according to CreateBlueprintRequest",
					},
				},
				"required": []string{"data"},
			},
			Annotations: &mcp.ToolAnnotations{
				OpenWorldHint: boolPtr(true),
				Title:         "Create blueprint",
			},
		},
		s.instrumented("create_blueprint", s.handleCreateBlueprint),
	)
}

func (s *Server) handleCreateBlueprint(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Data map[string]any `json:"data"`
	}
	if err := parseArgs(req, &args); err != nil {
		return errorResult(fmt.Sprintf("Error: %v", err)), nil
	}

	client, _, err := s.clientFor(ctx)
	if err != nil {
		return textResult(s.credentialsGuidance(err)), nil
	}

	created, err := client.CreateBlueprint(ctx, args.Data)
	if err != nil {
		return errorResult(fmt.Sprintf("Error: %v", err)), nil
	}

	id, ok := created["id"].(string)
	if !ok {
		data, _ := json.Marshal(created)
		return errorResult(fmt.Sprintf(
			"Error: the response of blueprint creation has no id. This is not expected. Response: %s", data)), nil
	}

	var b strings.Builder
	b.WriteString("[INSTRUCTION] Use the tool get_blueprint_details to get the details of the blueprint\n")
	b.WriteString("or ask the user to start the build/compose with blueprint_compose\n")
	fmt.Fprintf(&b, "Always show a link to the blueprint UI: %s\n", client.BlueprintURL(id))
	fmt.Fprintf(&b, "[ANSWER] Blueprint created successfully: {'UUID': '%s'}\n", id)
	b.WriteString("We could double check the details or start the build/compose")
	return textResult(b.String()), nil
}

// ═══════════════════════════════════════════════════════════════════════════
// get_blueprints / get_more_blueprints / get_blueprint_details
// ═══════════════════════════════════════════════════════════════════════════

const getBlueprintsDescription = `Get all blueprints without details.
For "all" set "response_size" to None
This starts a fresh search.
Call get_more_blueprints to get more.`

func (s *Server) addGetBlueprintsTool() {
	s.mcp.AddTool(
		&mcp.Tool{
			Name:        "get_blueprints",
			Title:       firstLine(getBlueprintsDescription),
			Description: getBlueprintsDescription,
			InputSchema: listArgsSchema,
			Annotations: &mcp.ToolAnnotations{
				ReadOnlyHint:  true,
				OpenWorldHint: boolPtr(true),
				Title:         "Get blueprints",
			},
		},
		s.instrumented("get_blueprints", s.handleGetBlueprints),
	)
}

func (s *Server) handleGetBlueprints(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args listArgs
	if err := parseArgs(req, &args); err != nil {
		return errorResult(fmt.Sprintf("Error: %v", err)), nil
	}

	client, identity, err := s.clientFor(ctx)
	if err != nil {
		return textResult(s.credentialsGuidance(err)), nil
	}

	blueprints, err := client.ListBlueprints(ctx)
	if err != nil {
		return errorResult(fmt.Sprintf("Error: %v", err)), nil
	}

	page := s.pages.Fresh(
		identity.Key(), pagination.KindBlueprint,
		blueprintRecords(client, blueprints),
		s.pageSize(args.ResponseSize), normalizeSearch(args.SearchString))

	intro := "[INSTRUCTION] Use the UI_URL to link to the blueprint\n[ANSWER]\n" +
		pageIntro(len(page.Records), page.Total)
	return textResult(intro + "\n" + marshalRecords(page.Records)), nil
}

const getMoreBlueprintsDescription = `Get more blueprints without details.`

func (s *Server) addGetMoreBlueprintsTool() {
	s.mcp.AddTool(
		&mcp.Tool{
			Name:        "get_more_blueprints",
			Title:       firstLine(getMoreBlueprintsDescription),
			Description: getMoreBlueprintsDescription,
			InputSchema: listArgsSchema,
			Annotations: &mcp.ToolAnnotations{
				ReadOnlyHint:  true,
				OpenWorldHint: boolPtr(true),
				Title:         "Get more blueprints",
			},
		},
		s.instrumented("get_more_blueprints", s.handleGetMoreBlueprints),
	)
}

func (s *Server) handleGetMoreBlueprints(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args listArgs
	if err := parseArgs(req, &args); err != nil {
		return errorResult(fmt.Sprintf("Error: %v", err)), nil
	}

	identity, err := s.identity(ctx)
	if err != nil {
		return textResult(s.credentialsGuidance(err)), nil
	}

	page, ok := s.pages.More(
		identity.Key(), pagination.KindBlueprint,
		s.pageSize(args.ResponseSize), normalizeSearch(args.SearchString))
	if !ok {
		return textResult("There are no more blueprints. Should I start a fresh search with get_blueprints?"), nil
	}

	return textResult(pageIntro(len(page.Records), page.Total) + "\n" + marshalRecords(page.Records)), nil
}

const getBlueprintDetailsDescription = `Get blueprint details.`

func (s *Server) addGetBlueprintDetailsTool() {
	s.mcp.AddTool(
		&mcp.Tool{
			Name:        "get_blueprint_details",
			Title:       firstLine(getBlueprintDetailsDescription),
			Description: getBlueprintDetailsDescription,
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"blueprint_identifier": map[string]any{
						"type":        "string",
						"description": "the UUID, name or reply_id to query",
					},
				},
				"required": []string{"blueprint_identifier"},
			},
			Annotations: &mcp.ToolAnnotations{
				ReadOnlyHint:  true,
				OpenWorldHint: boolPtr(true),
				Title:         "Get blueprint details",
			},
		},
		s.instrumented("get_blueprint_details", s.handleGetBlueprintDetails),
	)
}

func (s *Server) handleGetBlueprintDetails(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		BlueprintIdentifier string `json:"blueprint_identifier"`
	}
	if err := parseArgs(req, &args); err != nil {
		return errorResult(fmt.Sprintf("Error: %v", err)), nil
	}
	if args.BlueprintIdentifier == "" {
		return errorResult("Error: a blueprint identifier is required"), nil
	}

	client, identity, err := s.clientFor(ctx)
	if err != nil {
		return textResult(s.credentialsGuidance(err)), nil
	}

	// Lookup runs against the current snapshot; build one if the caller
	// never listed blueprints in this session.
	if !s.pages.Has(identity.Key(), pagination.KindBlueprint) {
		blueprints, err := client.ListBlueprints(ctx)
		if err != nil {
			return errorResult(fmt.Sprintf("Error: %v", err)), nil
		}
		s.pages.Fresh(identity.Key(), pagination.KindBlueprint,
			blueprintRecords(client, blueprints), 1, "")
	}

	matches := s.pages.Find(identity.Key(), pagination.KindBlueprint, args.BlueprintIdentifier)

	details := make([]map[string]any, 0, len(matches))
	for _, match := range matches {
		detail, err := client.GetBlueprint(ctx, match.UUID)
		if err != nil {
			details = append(details, map[string]any{"error": err.Error(), "blueprint_uuid": match.UUID})
			continue
		}
		details = append(details, detail)
	}

	intro := ""
	switch {
	case len(matches) == 0:
		intro = fmt.Sprintf("No blueprint found for '%s'.\n", args.BlueprintIdentifier)
	case len(matches) > 1:
		intro = fmt.Sprintf("Found %d blueprints for '%s'.\n", len(details), args.BlueprintIdentifier)
	}

	data, _ := json.Marshal(details)
	return textResult(intro + string(data)), nil
}

// ═══════════════════════════════════════════════════════════════════════════
// get_composes / get_more_composes / get_compose_details
// ═══════════════════════════════════════════════════════════════════════════

const getComposesDescription = `Get all composes without details.
Use this to get the latest image builds.
For "all" set "response_size" to None
This starts a fresh search.
Call get_more_composes to get more.`

func (s *Server) addGetComposesTool() {
	s.mcp.AddTool(
		&mcp.Tool{
			Name:        "get_composes",
			Title:       firstLine(getComposesDescription),
			Description: getComposesDescription,
			InputSchema: listArgsSchema,
			Annotations: &mcp.ToolAnnotations{
				ReadOnlyHint:  true,
				OpenWorldHint: boolPtr(true),
				Title:         "Get composes",
			},
		},
		s.instrumented("get_composes", s.handleGetComposes),
	)
}

func (s *Server) handleGetComposes(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args listArgs
	if err := parseArgs(req, &args); err != nil {
		return errorResult(fmt.Sprintf("Error: %v", err)), nil
	}

	client, identity, err := s.clientFor(ctx)
	if err != nil {
		return textResult(s.credentialsGuidance(err)), nil
	}

	composes, err := client.ListComposes(ctx)
	if err != nil {
		return errorResult(fmt.Sprintf("Error: %v", err)), nil
	}

	page := s.pages.Fresh(
		identity.Key(), pagination.KindCompose,
		composeRecords(client, composes),
		s.pageSize(args.ResponseSize), normalizeSearch(args.SearchString))

	intro := "[INSTRUCTION] Present a bulleted list and use the blueprint_url to link to the " +
		"blueprint which created this compose\n" +
		pageIntro(len(page.Records), page.Total)
	return textResult(intro + "\n" + marshalRecords(page.Records)), nil
}

const getMoreComposesDescription = `Get more composes without details.`

func (s *Server) addGetMoreComposesTool() {
	s.mcp.AddTool(
		&mcp.Tool{
			Name:        "get_more_composes",
			Title:       firstLine(getMoreComposesDescription),
			Description: getMoreComposesDescription,
			InputSchema: listArgsSchema,
			Annotations: &mcp.ToolAnnotations{
				ReadOnlyHint:  true,
				OpenWorldHint: boolPtr(true),
				Title:         "Get more composes",
			},
		},
		s.instrumented("get_more_composes", s.handleGetMoreComposes),
	)
}

func (s *Server) handleGetMoreComposes(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args listArgs
	if err := parseArgs(req, &args); err != nil {
		return errorResult(fmt.Sprintf("Error: %v", err)), nil
	}

	identity, err := s.identity(ctx)
	if err != nil {
		return textResult(s.credentialsGuidance(err)), nil
	}

	page, ok := s.pages.More(
		identity.Key(), pagination.KindCompose,
		s.pageSize(args.ResponseSize), normalizeSearch(args.SearchString))
	if !ok {
		return textResult("There are no more composes. Should I start a fresh search?"), nil
	}

	return textResult(pageIntro(len(page.Records), page.Total) + "\n" + marshalRecords(page.Records)), nil
}

const getComposeDetailsDescription = `Get compose details especially for the status of an image build.`

func (s *Server) addGetComposeDetailsTool() {
	s.mcp.AddTool(
		&mcp.Tool{
			Name:        "get_compose_details",
			Title:       firstLine(getComposeDetailsDescription),
			Description: getComposeDetailsDescription,
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"compose_identifier": map[string]any{
						"type":        "string",
						"description": "the UUID, name or reply_id to query",
					},
				},
				"required": []string{"compose_identifier"},
			},
			Annotations: &mcp.ToolAnnotations{
				ReadOnlyHint:  true,
				OpenWorldHint: boolPtr(true),
				Title:         "Get compose details",
			},
		},
		s.instrumented("get_compose_details", s.handleGetComposeDetails),
	)
}

func (s *Server) handleGetComposeDetails(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		ComposeIdentifier string `json:"compose_identifier"`
	}
	if err := parseArgs(req, &args); err != nil {
		return errorResult(fmt.Sprintf("Error: %v", err)), nil
	}
	if args.ComposeIdentifier == "" {
		return errorResult("Error: Compose UUID is required"), nil
	}

	client, identity, err := s.clientFor(ctx)
	if err != nil {
		return textResult(s.credentialsGuidance(err)), nil
	}

	if !s.pages.Has(identity.Key(), pagination.KindCompose) {
		composes, err := client.ListComposes(ctx)
		if err != nil {
			return errorResult(fmt.Sprintf("Error: %v", err)), nil
		}
		s.pages.Fresh(identity.Key(), pagination.KindCompose,
			composeRecords(client, composes), s.config.DefaultResponseSize, "")
	}

	matches := s.pages.Find(identity.Key(), pagination.KindCompose, args.ComposeIdentifier)

	details := make([]map[string]any, 0, len(matches))
	for _, match := range matches {
		detail, err := client.GetCompose(ctx, match.UUID)
		if err != nil {
			s.logger.Error("fetching compose detail", "compose_uuid", match.UUID, "err", err)
			continue
		}
		detail["compose_uuid"] = match.UUID
		details = append(details, detail)
	}

	var intro strings.Builder
	switch {
	case len(matches) == 0:
		fmt.Fprintf(&intro, "No compose found for '%s'.\n", args.ComposeIdentifier)
	case len(matches) > 1:
		fmt.Fprintf(&intro, "Found %d composes for '%s'.\n", len(details), args.ComposeIdentifier)
	}
	for _, detail := range details {
		intro.WriteString(downloadGuidance(detail))
	}

	data, _ := json.Marshal(details)
	return textResult(intro.String() + string(data)), nil
}

// downloadGuidance extracts the download URL from a compose detail and
// returns upload-target-specific instructions for presenting it.
func downloadGuidance(detail map[string]any) string {
	imageStatus, _ := detail["image_status"].(map[string]any)
	uploadStatus, _ := imageStatus["upload_status"].(map[string]any)
	options, _ := uploadStatus["options"].(map[string]any)
	downloadURL, _ := options["url"].(string)
	uploadTarget, _ := uploadStatus["type"].(string)

	if downloadURL == "" {
		// Whether the image can be downloaded depends on the build status
		// and the upload target.
		return ""
	}

	if uploadTarget == "oci.objectstorage" {
		return fmt.Sprintf(`
[INSTRUCTION] Leave the URL as code block so the user can copy and paste it.

To run the image copy the link below and follow the steps below:

   * Go to "Compute" in Oracle Cloud and choose "Custom Images".
   * Click on "Import image", choose "Import from an object storage URL".
   * Choose "Import from an object storage URL" and paste the URL in the "Object Storage URL" field. The image type has to be set to QCOW2 and the launch mode should be paravirtualized.

`+"```\n%s\n```\n", downloadURL)
	}

	return fmt.Sprintf("The image is available at [%s](%s)\nAlways present this link to the user\n",
		downloadURL, downloadURL)
}

// ═══════════════════════════════════════════════════════════════════════════
// blueprint_compose / compose — Start image builds
// ═══════════════════════════════════════════════════════════════════════════

const blueprintComposeDescription = `Compose an image from a blueprint UUID created with create_blueprint, get_blueprints.
If the UUID is not clear, ask the user if we should create a new blueprint with create_blueprint
or use an existing blueprint from get_blueprints.`

func (s *Server) addBlueprintComposeTool() {
	s.mcp.AddTool(
		&mcp.Tool{
			Name:        "blueprint_compose",
			Title:       firstLine(blueprintComposeDescription),
			Description: blueprintComposeDescription,
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"blueprint_uuid": map[string]any{
						"type":        "string",
						"description": "the UUID of the blueprint to compose",
					},
				},
				"required": []string{"blueprint_uuid"},
			},
			Annotations: &mcp.ToolAnnotations{
				OpenWorldHint: boolPtr(true),
				Title:         "Compose blueprint",
			},
		},
		s.instrumented("blueprint_compose", s.handleBlueprintCompose),
	)
}

func (s *Server) handleBlueprintCompose(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		BlueprintUUID string `json:"blueprint_uuid"`
	}
	if err := parseArgs(req, &args); err != nil {
		return errorResult(fmt.Sprintf("Error: %v", err)), nil
	}

	client, _, err := s.clientFor(ctx)
	if err != nil {
		return textResult(s.credentialsGuidance(err)), nil
	}

	builds, err := client.ComposeBlueprint(ctx, args.BlueprintUUID)
	if err != nil {
		return errorResult(fmt.Sprintf("Error: %v in blueprint_compose %s", err, args.BlueprintUUID)), nil
	}

	buildIDs := make([]string, 0, len(builds))
	for _, build := range builds {
		if obj, ok := build.(map[string]any); ok {
			if id, ok := obj["id"].(string); ok {
				buildIDs = append(buildIDs, fmt.Sprintf("UUID: %s", id))
				continue
			}
		}
		buildIDs = append(buildIDs, fmt.Sprintf("Invalid build object: %v", build))
	}
	ids, _ := json.Marshal(buildIDs)

	var b strings.Builder
	b.WriteString("[INSTRUCTION] Use the tool get_compose_details to get the details of the compose\n")
	b.WriteString("like the current build status\n")
	b.WriteString("[ANSWER] Compose created successfully:")
	fmt.Fprintf(&b, "\n%s", ids)
	b.WriteString("\nWe could double check the details or start the build/compose")
	return textResult(b.String()), nil
}

const composeDescription = `Create a new, up to date, operating system image.
Assure that the data is according to ComposeRequest descriped in openapi.
Ask user for more details to be able to fill "data" properly before calling this.

Supported distributions: %s
Supported architectures: %s
Supported image types: %s`

func (s *Server) addComposeTool() {
	distributions := make([]string, 0, len(defaults.Distributions()))
	for _, d := range defaults.Distributions() {
		distributions = append(distributions, d.Name)
	}
	description := fmt.Sprintf(composeDescription,
		strings.Join(distributions, ", "),
		strings.Join(defaults.Architectures(), ", "),
		strings.Join(defaults.ImageTypes(), ", "))

	s.mcp.AddTool(
		&mcp.Tool{
			Name:        "compose",
			Title:       firstLine(description),
			Description: description,
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"distribution": map[string]any{
						"type":        "string",
						"description": "the distribution to use (ask for one of the supported distributions)",
					},
					"architecture": map[string]any{
						"type":        "string",
						"description": "the architecture to use (ask for one of the supported architectures)",
						"enum":        defaults.Architectures(),
					},
					"image_type": map[string]any{
						"type":        "string",
						"description": "the type of image to create (ask for one of the supported image types)",
					},
					"image_name": map[string]any{
						"type":        "string",
						"description": "optional name for the image (ask if the user wants to set this)",
					},
					"image_description": map[string]any{
						"type":        "string",
						"description": "optional description for the image (ask if the user wants to set this)",
					},
				},
				"required": []string{"distribution"},
			},
			Annotations: &mcp.ToolAnnotations{
				OpenWorldHint: boolPtr(true),
				Title:         "Compose image",
			},
		},
		s.instrumented("compose", s.handleCompose),
	)
}

func (s *Server) handleCompose(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Distribution     string `json:"distribution"`
		Architecture     string `json:"architecture"`
		ImageType        string `json:"image_type"`
		ImageName        string `json:"image_name"`
		ImageDescription string `json:"image_description"`
	}
	if err := parseArgs(req, &args); err != nil {
		return errorResult(fmt.Sprintf("Error: %v", err)), nil
	}
	if args.Architecture == "" {
		args.Architecture = "x86_64"
	}
	if args.ImageType == "" {
		args.ImageType = "guest-image"
	}

	client, _, err := s.clientFor(ctx)
	if err != nil {
		return textResult(s.credentialsGuidance(err)), nil
	}

	now := time.Now()
	if args.ImageName == "" {
		args.ImageName = fmt.Sprintf("%s-%s-%s-%s-mcp",
			args.Distribution, args.Architecture, args.ImageType, now.Format("20060102150405"))
	}
	if args.ImageDescription == "" {
		args.ImageDescription = "Image created via image-builder-mcp on " + now.Format("2006-01-02 15:04:05")
	}

	composeReq := imagebuilder.ComposeRequest{
		Distribution:     args.Distribution,
		ClientID:         defaults.MCPClientID,
		ImageName:        args.ImageName,
		ImageDescription: args.ImageDescription,
		ImageRequests: []imagebuilder.ImageRequest{
			{
				Architecture: args.Architecture,
				ImageType:    args.ImageType,
				UploadRequest: imagebuilder.UploadRequest{
					Type:    "aws.s3",
					Options: map[string]any{},
				},
			},
		},
	}

	created, err := client.CreateCompose(ctx, composeReq)
	if err != nil {
		payload, _ := json.Marshal(composeReq)
		return errorResult(fmt.Sprintf("Error: %v for compose %s", err, payload)), nil
	}

	data, _ := json.Marshal(created)
	return textResult(fmt.Sprintf("Compose created successfully: %s", data)), nil
}

// firstLine returns the first line of a multi-line description, used as
// the tool title.
func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
