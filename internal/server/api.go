package server

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/felixgeelhaar/specforge/internal/decompose"
	"github.com/felixgeelhaar/specforge/internal/errors"
	"github.com/felixgeelhaar/specforge/internal/orchestrator"
	"github.com/felixgeelhaar/specforge/internal/review"
	"github.com/felixgeelhaar/specforge/internal/session"
	"github.com/felixgeelhaar/specforge/internal/task"
	"github.com/felixgeelhaar/specforge/internal/workspace"
)

// apiError is the JSON error envelope. It implements huma.StatusError.
type apiError struct {
	Status      int      `json:"status"`
	Code        string   `json:"code,omitempty"`
	Kind        string   `json:"kind"`
	Message     string   `json:"message"`
	Suggestions []string `json:"suggestions,omitempty"`
}

func (e *apiError) Error() string  { return e.Message }
func (e *apiError) GetStatus() int { return e.Status }

// statusFor maps an error kind to an HTTP status
func statusFor(err error) int {
	if errors.CodeOf(err) == errors.ErrCodeFileNotFound {
		return http.StatusNotFound
	}
	switch errors.KindOf(err) {
	case errors.KindValidation:
		return http.StatusBadRequest
	case errors.KindStateConflict:
		return http.StatusConflict
	case errors.KindTimeout:
		return http.StatusGatewayTimeout
	case errors.KindBackendFailure, errors.KindExtractionFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func toAPIError(err error) error {
	if err == nil {
		return nil
	}
	e := &apiError{
		Status:  statusFor(err),
		Code:    string(errors.CodeOf(err)),
		Kind:    string(errors.KindOf(err)),
		Message: err.Error(),
	}
	var fe *errors.ForgeError
	if stderrors.As(err, &fe) {
		e.Message = fe.Message
		e.Suggestions = fe.Suggestions
	}
	return e
}

type specPath struct {
	Name string `path:"name" doc:"Spec name, the lowercased document base name"`
}

type runBody struct {
	Body orchestrator.Run `json:"body"`
}

// registerAPI mounts the JSON API on api, which is expected to be rooted at /api
func registerAPI(api huma.API, svc *orchestrator.Service) {
	store := svc.Store()
	sessions := svc.Sessions()
	notFoundErrors := []int{http.StatusNotFound}

	huma.Register(api, huma.Operation{
		OperationID: "list-specs",
		Method:      http.MethodGet,
		Path:        "/specs",
		Summary:     "List specs with workspace state",
		Tags:        []string{"Specs"},
	}, func(ctx context.Context, input *struct{}) (*struct {
		Body []workspace.Metadata `json:"body"`
	}, error) {
		names, err := store.Names()
		if err != nil {
			return nil, toAPIError(err)
		}
		out := make([]workspace.Metadata, 0, len(names))
		for _, name := range names {
			md, err := store.LoadMetadata(name)
			if err != nil {
				continue
			}
			out = append(out, *md)
		}
		return &struct {
			Body []workspace.Metadata `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-spec",
		Method:      http.MethodGet,
		Path:        "/specs/{name}",
		Summary:     "Get spec metadata",
		Tags:        []string{"Specs"},
		Errors:      notFoundErrors,
	}, func(ctx context.Context, input *specPath) (*struct {
		Body *workspace.Metadata `json:"body"`
	}, error) {
		md, err := store.LoadMetadata(input.Name)
		if err != nil {
			return nil, toAPIError(err)
		}
		return &struct {
			Body *workspace.Metadata `json:"body"`
		}{Body: md}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-review",
		Method:      http.MethodGet,
		Path:        "/specs/{name}/review",
		Summary:     "Get the last aggregated review",
		Tags:        []string{"Review"},
		Errors:      notFoundErrors,
	}, func(ctx context.Context, input *specPath) (*struct {
		Body *review.AggregatedReviewResult `json:"body"`
	}, error) {
		result, err := store.LoadReview(input.Name)
		if err != nil {
			return nil, toAPIError(err)
		}
		if result == nil {
			return nil, huma.Error404NotFound("no review for " + input.Name)
		}
		return &struct {
			Body *review.AggregatedReviewResult `json:"body"`
		}{Body: result}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-tasks",
		Method:      http.MethodGet,
		Path:        "/specs/{name}/tasks",
		Summary:     "Get the decomposed task list",
		Tags:        []string{"Decompose"},
		Errors:      notFoundErrors,
	}, func(ctx context.Context, input *specPath) (*struct {
		Body *task.List `json:"body"`
	}, error) {
		list, err := store.LoadTasks(input.Name)
		if err != nil {
			return nil, toAPIError(err)
		}
		if list == nil {
			return nil, huma.Error404NotFound("no tasks for " + input.Name)
		}
		return &struct {
			Body *task.List `json:"body"`
		}{Body: list}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-progress",
		Method:      http.MethodGet,
		Path:        "/specs/{name}/progress",
		Summary:     "Get the decompose progress snapshot",
		Tags:        []string{"Decompose"},
		Errors:      notFoundErrors,
	}, func(ctx context.Context, input *specPath) (*struct {
		Body *decompose.State `json:"body"`
	}, error) {
		var state decompose.State
		ok, err := store.LoadProgress(input.Name, &state)
		if err != nil {
			return nil, toAPIError(err)
		}
		if !ok {
			return nil, huma.Error404NotFound("no decompose run for " + input.Name)
		}
		return &struct {
			Body *decompose.State `json:"body"`
		}{Body: &state}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/specs/{name}/session",
		Summary:     "Get the suggestion session",
		Tags:        []string{"Sessions"},
		Errors:      notFoundErrors,
	}, func(ctx context.Context, input *specPath) (*sessionBody, error) {
		f, err := sessions.Load(input.Name)
		if err != nil {
			return nil, toAPIError(err)
		}
		return &sessionBody{Body: f}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "start-review",
		Method:        http.MethodPost,
		Path:          "/reviews",
		Summary:       "Start a background review of a document",
		Tags:          []string{"Review"},
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body struct {
			Path string `json:"path" minLength:"1" doc:"Path to the spec document"`
		}
	}) (*runBody, error) {
		run, err := svc.StartReview(input.Body.Path)
		if err != nil {
			return nil, toAPIError(err)
		}
		return &runBody{Body: run}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "start-decompose",
		Method:        http.MethodPost,
		Path:          "/decompositions",
		Summary:       "Start a background decompose run",
		Tags:          []string{"Decompose"},
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body struct {
			Path        string `json:"path" minLength:"1" doc:"Path to the spec document"`
			MaxAttempts int    `json:"maxAttempts,omitempty" minimum:"0" doc:"Review attempts before giving up"`
			Force       bool   `json:"force,omitempty" doc:"Discard any existing draft"`
			NoReview    bool   `json:"noReview,omitempty" doc:"Skip the review loop"`
		}
	}) (*runBody, error) {
		run, err := svc.StartDecompose(input.Body.Path, decompose.Options{
			MaxReviewAttempts: input.Body.MaxAttempts,
			Force:             input.Body.Force,
			SkipReview:        input.Body.NoReview,
		})
		if err != nil {
			return nil, toAPIError(err)
		}
		return &runBody{Body: run}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/runs",
		Summary:     "List background runs",
		Tags:        []string{"Runs"},
	}, func(ctx context.Context, input *struct{}) (*struct {
		Body []orchestrator.Run `json:"body"`
	}, error) {
		return &struct {
			Body []orchestrator.Run `json:"body"`
		}{Body: svc.Runs()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-run",
		Method:      http.MethodGet,
		Path:        "/runs/{id}",
		Summary:     "Get a background run",
		Tags:        []string{"Runs"},
		Errors:      notFoundErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*runBody, error) {
		run, ok := svc.Get(input.ID)
		if !ok {
			return nil, huma.Error404NotFound("unknown run " + input.ID)
		}
		return &runBody{Body: run}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "cancel-run",
		Method:        http.MethodPost,
		Path:          "/runs/{id}/cancel",
		Summary:       "Cancel a background run",
		Tags:          []string{"Runs"},
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*runBody, error) {
		run, ok := svc.Get(input.ID)
		if !ok {
			return nil, huma.Error404NotFound("unknown run " + input.ID)
		}
		if run.Status != orchestrator.RunRunning || !svc.Cancel(run.Spec) {
			return nil, huma.Error409Conflict("run " + input.ID + " is not running")
		}
		return &runBody{Body: run}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "suggestion-action",
		Method:      http.MethodPost,
		Path:        "/specs/{name}/suggestions/{id}/{action}",
		Summary:     "Approve, reject, edit, dismiss, or resolve a suggestion",
		Tags:        []string{"Sessions"},
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Name   string `path:"name"`
		ID     string `path:"id"`
		Action string `path:"action" enum:"approve,reject,edit,dismiss,resolve"`
		Body   struct {
			UserVersion string `json:"userVersion,omitempty" doc:"Replacement text, required for edit"`
		} `required:"false"`
	}) (*changeBody, error) {
		action, err := session.ParseAction(input.Action)
		if err != nil {
			return nil, toAPIError(err)
		}
		var rec *session.ChangeRecord
		f, err := sessions.Update(input.Name, func(s *session.Session) error {
			var err error
			rec, err = s.Apply(action, input.ID, input.Body.UserVersion)
			return err
		})
		if err != nil {
			return nil, toAPIError(err)
		}
		return &changeBody{Body: changeResult{Session: f, Change: rec}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "stage-diff",
		Method:      http.MethodPost,
		Path:        "/specs/{name}/suggestions/{id}/diff",
		Summary:     "Stage an edit for a suggestion without writing the document",
		Tags:        []string{"Sessions"},
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Name string `path:"name"`
		ID   string `path:"id"`
		Body struct {
			Original string `json:"original"`
			Proposed string `json:"proposed"`
			LineHint *int   `json:"lineHint,omitempty" minimum:"1"`
		}
	}) (*sessionBody, error) {
		f, err := sessions.Update(input.Name, func(s *session.Session) error {
			_, err := s.EnterDiffMode(input.ID, input.Body.Original, input.Body.Proposed, input.Body.LineHint)
			return err
		})
		if err != nil {
			return nil, toAPIError(err)
		}
		return &sessionBody{Body: f}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "revert-change",
		Method:      http.MethodPost,
		Path:        "/specs/{name}/changes/{id}/revert",
		Summary:     "Restore the document content from before a change",
		Tags:        []string{"Sessions"},
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Name string `path:"name"`
		ID   string `path:"id"`
	}) (*changeBody, error) {
		var rec *session.ChangeRecord
		f, err := sessions.Update(input.Name, func(s *session.Session) error {
			var err error
			rec, err = s.Revert(input.ID)
			return err
		})
		if err != nil {
			return nil, toAPIError(err)
		}
		return &changeBody{Body: changeResult{Session: f, Change: rec}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "godspec",
		Method:      http.MethodPost,
		Path:        "/godspec",
		Summary:     "Check a document for god-spec indicators and optionally split it",
		Tags:        []string{"Specs"},
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body struct {
			Path      string `json:"path" minLength:"1"`
			Split     bool   `json:"split,omitempty" doc:"Include a split proposal"`
			Write     bool   `json:"write,omitempty" doc:"Write the proposed documents"`
			Overwrite bool   `json:"overwrite,omitempty"`
		}
	}) (*struct {
		Body *orchestrator.GodSpecReport `json:"body"`
	}, error) {
		report, err := svc.GodSpec(input.Body.Path, input.Body.Split, input.Body.Write, input.Body.Overwrite)
		if err != nil {
			return nil, toAPIError(err)
		}
		return &struct {
			Body *orchestrator.GodSpecReport `json:"body"`
		}{Body: report}, nil
	})
}

type sessionBody struct {
	Body *session.File `json:"body"`
}

type changeResult struct {
	Session *session.File         `json:"session"`
	Change  *session.ChangeRecord `json:"change,omitempty"`
}

type changeBody struct {
	Body changeResult `json:"body"`
}
