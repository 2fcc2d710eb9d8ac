package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/lakequery/lakequery/internal/auth"
	"github.com/lakequery/lakequery/internal/catalog"
	"github.com/lakequery/lakequery/internal/config"
	"github.com/lakequery/lakequery/internal/failure"
	"github.com/lakequery/lakequery/internal/materialize"
	"github.com/lakequery/lakequery/internal/observability"
	"github.com/lakequery/lakequery/internal/storage"
)

type queryRequest struct {
	Query     string `json:"query"`
	TablePath string `json:"table_path"`
}

type queryResponse struct {
	RequestID     string    `json:"request_id"`
	Status        string    `json:"status"`
	ResultParquet string    `json:"result_parquet"`
	ResultJSON    string    `json:"result_json"`
	TableName     string    `json:"table_name"`
	Query         string    `json:"query"`
	ExpiresAt     time.Time `json:"expires_at"`
}

type jobResponse struct {
	RequestID     string     `json:"request_id"`
	Status        string     `json:"status"`
	TableName     string     `json:"table_name"`
	TablePath     string     `json:"table_path"`
	Query         string     `json:"query"`
	Attempt       int        `json:"attempt"`
	Error         *jobError  `json:"error,omitempty"`
	Result        *jobResult `json:"result,omitempty"`
	ResultParquet string     `json:"result_parquet,omitempty"`
	ResultJSON    string     `json:"result_json,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	ExpiredAt     *time.Time `json:"expired_at,omitempty"`
}

type jobError struct {
	Kind    string `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type jobResult struct {
	RowCount       int64  `json:"row_count"`
	ParquetBytes   int64  `json:"parquet_bytes"`
	JSONBytes      int64  `json:"json_bytes"`
	UploadStrategy string `json:"upload_strategy"`
}

func handleSubmitQuery(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Planner == nil || deps.Jobs == nil || deps.Presigner == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "query dependencies are not configured", false, nil)
		return
	}

	tenantID, err := tenantFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "TENANT_REQUIRED", err.Error(), false, nil)
		return
	}
	if err := requireRole(r, auth.RoleQueryRunner); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request queryRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid query request body", false, map[string]any{"details": err.Error()})
		return
	}

	started := time.Now()
	plan, err := deps.Planner.Plan(r.Context(), request.Query, request.TablePath)
	if err != nil {
		observability.ObserveQueryRejected(string(failure.KindOf(err)), failure.CodeOf(err))
		writeFailure(r.Context(), w, err)
		return
	}

	newID := deps.NewRequestID
	if newID == nil {
		newID = uuid.NewString
	}
	requestID := newID()

	parquetKey, err := storage.BuildResultKey(cfg.ObjectStore.ResultsPrefix, requestID, storage.ExtParquet)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "RESULT_KEY_INVALID", err.Error(), false, nil)
		return
	}
	jsonKey, err := storage.BuildResultKey(cfg.ObjectStore.ResultsPrefix, requestID, storage.ExtJSON)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "RESULT_KEY_INVALID", err.Error(), false, nil)
		return
	}

	parquetURL, jsonURL, err := presignResults(r.Context(), deps.Presigner, cfg, parquetKey, jsonKey)
	if err != nil {
		writeFailure(r.Context(), w, err)
		return
	}

	job, err := deps.Jobs.CreateJob(r.Context(), catalog.CreateJobInput{
		RequestID:        requestID,
		TenantID:         tenantID,
		SubmittedQuery:   plan.SubmittedQuery,
		PreparedQuery:    plan.Query,
		TableName:        plan.TableName,
		TablePath:        plan.TablePath.String(),
		ResultBucket:     cfg.ObjectStore.ResultsBucket,
		ResultParquetKey: parquetKey,
		ResultJSONKey:    jsonKey,
	})
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to record query job", true, map[string]any{"details": err.Error()})
		return
	}

	observability.ObserveQueryAccepted(time.Since(started))
	if deps.Logger != nil {
		observability.LoggerFromContext(observability.ContextWithRequestID(r.Context(), requestID), deps.Logger).InfoContext(r.Context(), "query accepted",
			"tenant_id", tenantID,
			"table_name", plan.TableName,
			"table_path", plan.TablePath.String(),
		)
	}

	writeJSON(w, http.StatusAccepted, queryResponse{
		RequestID:     job.RequestID,
		Status:        string(job.Status),
		ResultParquet: parquetURL,
		ResultJSON:    jsonURL,
		TableName:     plan.TableName,
		Query:         plan.Query,
		ExpiresAt:     started.Add(cfg.ObjectStore.PresignTTL).UTC(),
	})
}

func handleGetQuery(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Jobs == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "query dependencies are not configured", false, nil)
		return
	}

	tenantID, err := tenantFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "TENANT_REQUIRED", err.Error(), false, nil)
		return
	}
	if err := requireRole(r, auth.RoleQueryRunner); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	requestID := r.PathValue("request_id")
	job, err := deps.Jobs.GetJob(r.Context(), tenantID, requestID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "JOB_NOT_FOUND", "query job was not found", false, map[string]any{"request_id": requestID})
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to load query job", true, map[string]any{"details": err.Error()})
		return
	}

	response := jobResponse{
		RequestID:  job.RequestID,
		Status:     string(job.Status),
		TableName:  job.TableName,
		TablePath:  job.TablePath,
		Query:      job.PreparedQuery,
		Attempt:    job.Attempt,
		CreatedAt:  job.CreatedAt,
		StartedAt:  job.StartedAt,
		FinishedAt: job.FinishedAt,
		ExpiredAt:  job.ExpiredAt,
	}
	if job.Failure != nil {
		response.Error = &jobError{Kind: job.Failure.Kind, Code: job.Failure.Code, Message: job.Failure.Message}
	}
	if job.Result != nil {
		response.Result = &jobResult{
			RowCount:       job.Result.RowCount,
			ParquetBytes:   job.Result.ParquetBytes,
			JSONBytes:      job.Result.JSONBytes,
			UploadStrategy: job.Result.UploadStrategy,
		}
	}
	if job.Status == catalog.StatusSucceeded && deps.Presigner != nil {
		parquetURL, jsonURL, err := presignResults(r.Context(), deps.Presigner, cfg, job.ResultParquetKey, job.ResultJSONKey)
		if err != nil {
			writeFailure(r.Context(), w, err)
			return
		}
		response.ResultParquet = parquetURL
		response.ResultJSON = jsonURL
	}
	writeJSON(w, http.StatusOK, response)
}

// presignResults signs GET URLs that download the results as attachments
// named download.parquet and download.json.
func presignResults(ctx context.Context, presigner storage.Presigner, cfg config.Config, parquetKey, jsonKey string) (string, string, error) {
	parquetURL, err := presigner.PresignGet(ctx, cfg.ObjectStore.ResultsBucket, parquetKey, cfg.ObjectStore.PresignTTL, storage.PresignOptions{
		ContentType:        materialize.ContentTypeParquet,
		ContentDisposition: attachment(storage.ExtParquet),
	})
	if err != nil {
		return "", "", failure.Transport(failure.CodeObjectStore, "presign parquet result", err)
	}
	jsonURL, err := presigner.PresignGet(ctx, cfg.ObjectStore.ResultsBucket, jsonKey, cfg.ObjectStore.PresignTTL, storage.PresignOptions{
		ContentType:        materialize.ContentTypeJSON,
		ContentDisposition: attachment(storage.ExtJSON),
	})
	if err != nil {
		return "", "", failure.Transport(failure.CodeObjectStore, "presign json result", err)
	}
	return parquetURL, jsonURL, nil
}

func attachment(ext string) string {
	return fmt.Sprintf(`attachment; filename="download.%s"`, ext)
}

// writeFailure maps a classified failure to its HTTP status: request errors
// are 400 (404 for a missing table path), object-store faults 502 and
// integrity faults 500.
func writeFailure(ctx context.Context, w http.ResponseWriter, err error) {
	var fe *failure.Error
	if !errors.As(err, &fe) {
		writeError(ctx, w, http.StatusInternalServerError, "INTERNAL", err.Error(), true, nil)
		return
	}

	status := http.StatusInternalServerError
	switch {
	case fe.Code == failure.CodeTablePathNotFound:
		status = http.StatusNotFound
	case fe.Kind == failure.KindParse || fe.Kind == failure.KindSemantic:
		status = http.StatusBadRequest
	case fe.Kind == failure.KindTransport:
		status = http.StatusBadGateway
	}

	extra := map[string]any{"kind": string(fe.Kind)}
	if fe.Cause != nil {
		extra["details"] = fe.Cause.Error()
	}
	writeError(ctx, w, status, fe.Code, fe.Message, fe.Retryable(), extra)
}
