package server

import (
	"encoding/json"
	"net/http"

	openapi "github.com/swaggest/openapi-go"
	"github.com/swaggest/openapi-go/openapi3"
)

type operation struct {
	method, path, summary, description string
	req                                any
	resp                               any
	status                             int
	errors                             []int
	contentType                        string
}

var operations = []operation{
	{
		method: http.MethodPost, path: "/api/join",
		summary:     "Join a team",
		description: "Adds the player to the team owning the invite token. Returns a session token.",
		req:         JoinRequest{}, resp: JoinResponse{}, status: http.StatusOK,
		errors: []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	},
	{
		method: http.MethodPost, path: "/api/me/promote",
		summary:     "Promote by password",
		description: "Grants the captain or admin role when the password matches. Requires Bearer token.",
		req:         PromoteRequest{}, resp: PlayerResponse{}, status: http.StatusOK,
		errors: []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusConflict},
	},
	{
		method: http.MethodPost, path: "/api/teams",
		summary:     "Create team",
		description: "Admin registers a team and gets its invite token. An existing name returns that team with 200.",
		req:         CreateTeamRequest{}, resp: TeamResponse{}, status: http.StatusCreated,
		errors: []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	},
	{
		method: http.MethodGet, path: "/api/me/location",
		summary:     "My location",
		description: "Returns the caller's location. Hidden locations come without coordinates.",
		resp:        LocationResponse{}, status: http.StatusOK,
		errors: []int{http.StatusUnauthorized, http.StatusNotFound},
	},
	{
		method: http.MethodPut, path: "/api/players/{playerID}/location",
		summary:     "Move a player",
		description: "Captain of the player's team or an admin moves the player. Locked while the player answers.",
		req:         SetLocationRequest{}, status: http.StatusNoContent,
		errors: []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	},
	{
		method: http.MethodGet, path: "/api/me/quest",
		summary:     "Quest status",
		description: "Summary of the caller's team quest with the roster in turn order.",
		resp:        QuestStatusResponse{}, status: http.StatusOK,
		errors: []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusConflict},
	},
	{
		method: http.MethodPost, path: "/api/me/quest/start",
		summary:     "Start quest",
		description: "Captain starts the team quest. The first player receives the first question.",
		resp:        QuestStateResponse{}, status: http.StatusOK,
		errors: []int{http.StatusForbidden, http.StatusConflict, http.StatusUnprocessableEntity},
	},
	{
		method: http.MethodPost, path: "/api/me/quest/answer",
		summary:     "Submit answer",
		description: "Active player answers the current question. Wrong answers may be retried until the deadline.",
		req:         AnswerRequest{}, resp: AnswerResponse{}, status: http.StatusOK,
		errors: []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict},
	},
	{
		method: http.MethodPost, path: "/api/me/quest/arrive",
		summary:     "Confirm arrival",
		description: "Any team member confirms the team reached the next player's location.",
		status:      http.StatusNoContent,
		errors:      []int{http.StatusForbidden, http.StatusConflict},
	},
	{
		method: http.MethodPost, path: "/api/me/quest/accept",
		summary:     "Accept turn",
		description: "Next player accepts the turn and receives a question for their location.",
		resp:        QuestStateResponse{}, status: http.StatusOK,
		errors: []int{http.StatusForbidden, http.StatusConflict, http.StatusUnprocessableEntity},
	},
	{
		method: http.MethodPut, path: "/api/me/conversation",
		summary:     "Write conversation data",
		description: "Stores the caller's transient conversation data. Body is any JSON value.",
		status:      http.StatusNoContent,
		errors:      []int{http.StatusBadRequest, http.StatusRequestEntityTooLarge},
	},
	{
		method: http.MethodPost, path: "/api/transfers",
		summary:     "Prepare transfer",
		description: "Moves the caller's conversation data into a short-lived record for the receiver.",
		req:         PrepareTransferRequest{}, resp: TransferResponse{}, status: http.StatusCreated,
		errors: []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	},
	{
		method: http.MethodPost, path: "/api/me/transfers/apply",
		summary:     "Apply transfer",
		description: "Restores the caller's pending transfer record as their conversation data.",
		resp:        TransferResponse{}, status: http.StatusOK,
		errors: []int{http.StatusNotFound},
	},
	{
		method: http.MethodGet, path: "/api/me/events",
		summary:     "Inbox event stream",
		description: "Server-Sent Events stream of the caller's inbox. The token may be passed as a query parameter.",
		status:      http.StatusOK, contentType: "text/event-stream",
	},
	{
		method: http.MethodGet, path: "/api/me/ws",
		summary:     "Inbox WebSocket",
		description: "Upgrades to a WebSocket streaming the caller's inbox as JSON messages.",
		status:      http.StatusSwitchingProtocols, contentType: "text/plain",
	},
}

func newOpenAPISpec() *openapi3.Spec {
	r := openapi3.NewReflector()
	r.Spec.Info.Title = "QuestBot API"
	r.Spec.Info.Version = "0.1.0"
	r.Spec.Info.WithDescription("Cooperative location-based trivia quest.")

	getHealthz, _ := r.NewOperationContext(http.MethodGet, "/healthz")
	getHealthz.SetSummary("Health check")
	getHealthz.SetDescription("Returns the health status of backend dependencies.")
	getHealthz.AddRespStructure(map[string]HealthResult{}, openapi.WithHTTPStatus(http.StatusOK))
	getHealthz.AddRespStructure(map[string]HealthResult{}, openapi.WithHTTPStatus(http.StatusServiceUnavailable))
	_ = r.AddOperation(getHealthz)

	for _, op := range operations {
		oc, err := r.NewOperationContext(op.method, op.path)
		if err != nil {
			continue
		}
		oc.SetSummary(op.summary)
		oc.SetDescription(op.description)
		if op.req != nil {
			oc.AddReqStructure(op.req)
		}
		switch {
		case op.contentType != "":
			oc.AddRespStructure(nil, openapi.WithHTTPStatus(op.status), openapi.WithContentType(op.contentType))
		case op.resp != nil:
			oc.AddRespStructure(op.resp, openapi.WithHTTPStatus(op.status))
		default:
			oc.AddRespStructure(nil, openapi.WithHTTPStatus(op.status))
		}
		for _, code := range op.errors {
			oc.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(code))
		}
		_ = r.AddOperation(oc)
	}

	return r.Spec
}

// HealthResult is one dependency entry of the /healthz body.
type HealthResult struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
}

func handleOpenAPI() http.HandlerFunc {
	spec := newOpenAPISpec()
	data, _ := json.MarshalIndent(spec, "", "  ")

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}
