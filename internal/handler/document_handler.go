package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/jobsync/internal/document"
	"github.com/hitoshi/jobsync/internal/middleware"
	"github.com/hitoshi/jobsync/internal/model"
	"github.com/hitoshi/jobsync/internal/vacancy"
)

// DefaultUploadMaxSize は履歴書アップロードの既定の上限。
const DefaultUploadMaxSize int64 = 10 << 20

// multipartMemory はマルチパート解析時にメモリに保持する上限。超過分は一時ファイルに書かれる。
const multipartMemory = 1 << 20

// DocumentService はドキュメントキャッシュへの操作。document.Cacheが実装する。
type DocumentService interface {
	GetOrCreateResult(ctx context.Context, ownerID string, kind model.DocumentKind, raw []byte, parse document.ParseFunc) (*document.Result, error)
	Get(ctx context.Context, ownerID string, kind model.DocumentKind, id string) (*model.Document, error)
}

// ResumeParser は履歴書の生バイト列を解析する。resume.HTTPParserが実装する。
type ResumeParser interface {
	Parse(ctx context.Context, raw []byte) (model.Payload, error)
}

// VacancyService は求人ソースを登録する。vacancy.Serviceが実装する。
type VacancyService interface {
	Submit(ctx context.Context, ownerID, source string) (*document.Result, error)
}

// VacancyImporter は保存検索フィードから求人を取り込む。vacancy.FeedImporterが実装する。
type VacancyImporter interface {
	Import(ctx context.Context, principalID, feedURL string) ([]vacancy.ImportResult, error)
}

// DocumentHandlerConfig はドキュメントハンドラーの設定。
type DocumentHandlerConfig struct {
	UploadMaxSize int64
}

// DocumentHandler は履歴書・求人ドキュメントのHTTPハンドラー。
type DocumentHandler struct {
	documents DocumentService
	parser    ResumeParser
	vacancies VacancyService
	importer  VacancyImporter
	config    DocumentHandlerConfig
}

// NewDocumentHandler はDocumentHandlerを生成する。
func NewDocumentHandler(documents DocumentService, parser ResumeParser, vacancies VacancyService, importer VacancyImporter, config DocumentHandlerConfig) *DocumentHandler {
	if config.UploadMaxSize <= 0 {
		config.UploadMaxSize = DefaultUploadMaxSize
	}
	return &DocumentHandler{
		documents: documents,
		parser:    parser,
		vacancies: vacancies,
		importer:  importer,
		config:    config,
	}
}

type submitVacancyRequest struct {
	Source string `json:"source" validate:"required,max=2048"`
}

type importVacanciesRequest struct {
	FeedURL string `json:"feed_url" validate:"required,url,max=2048"`
}

// documentResponse はドキュメントのAPIレスポンス。
type documentResponse struct {
	ID         string        `json:"id"`
	Kind       string        `json:"kind"`
	Title      string        `json:"title"`
	SourceHash string        `json:"source_hash"`
	CreatedAt  time.Time     `json:"created_at"`
	Payload    model.Payload `json:"payload,omitempty"`
}

type importEntryResponse struct {
	Link      string                        `json:"link"`
	VacancyID string                        `json:"vacancy_id,omitempty"`
	Document  *documentResponse             `json:"document,omitempty"`
	Created   bool                          `json:"created"`
	Error     *middleware.ErrorResponseBody `json:"error,omitempty"`
}

type importResponse struct {
	Entries []importEntryResponse `json:"entries"`
}

// UploadResume は履歴書ファイルを受け取り、キャッシュ済みでなければ解析して保存する。
// 新規作成時は201、キャッシュヒット時は200を返す。
// POST /api/resumes (multipart/form-data, field "file")
func (h *DocumentHandler) UploadResume(w http.ResponseWriter, r *http.Request) {
	principalID, err := middleware.PrincipalIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	raw, err := h.readUpload(w, r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.WriteErrorResponse(w, http.StatusRequestEntityTooLarge, model.NewPayloadTooLargeError(h.config.UploadMaxSize))
			return
		}
		writeBadRequest(w, err.Error())
		return
	}

	res, err := h.documents.GetOrCreateResult(r.Context(), principalID, model.DocumentKindResume, raw, h.parser.Parse)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeDocumentResult(w, res)
}

// readUpload はマルチパートの"file"フィールドをUploadMaxSizeまで読み込む。
func (h *DocumentHandler) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	// マルチパートのヘッダー分の余裕を持たせる
	r.Body = http.MaxBytesReader(w, r.Body, h.config.UploadMaxSize+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, err
		}
		return nil, errors.New("multipart/form-data形式で送信してください")
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, errors.New("fileフィールドがありません")
	}
	defer file.Close()

	if header.Size > h.config.UploadMaxSize {
		return nil, &http.MaxBytesError{Limit: h.config.UploadMaxSize}
	}

	raw, err := io.ReadAll(io.LimitReader(file, h.config.UploadMaxSize+1))
	if err != nil {
		return nil, errors.New("ファイルの読み込みに失敗しました")
	}
	if int64(len(raw)) > h.config.UploadMaxSize {
		return nil, &http.MaxBytesError{Limit: h.config.UploadMaxSize}
	}
	if len(raw) == 0 {
		return nil, errors.New("ファイルが空です")
	}
	return raw, nil
}

// GetResume は履歴書ドキュメントを返す。
// GET /api/resumes/{id}
func (h *DocumentHandler) GetResume(w http.ResponseWriter, r *http.Request) {
	h.getDocument(w, r, model.DocumentKindResume)
}

// SubmitVacancy は求人IDまたは求人URLを受け取り、キャッシュ済みでなければ取得して保存する。
// POST /api/vacancies
func (h *DocumentHandler) SubmitVacancy(w http.ResponseWriter, r *http.Request) {
	principalID, err := middleware.PrincipalIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req submitVacancyRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	res, err := h.vacancies.Submit(r.Context(), principalID, req.Source)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeDocumentResult(w, res)
}

// ImportVacancies は保存検索フィードの各エントリを取り込み、エントリごとの結果を返す。
// POST /api/vacancies/import
func (h *DocumentHandler) ImportVacancies(w http.ResponseWriter, r *http.Request) {
	principalID, err := middleware.PrincipalIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req importVacanciesRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	results, err := h.importer.Import(r.Context(), principalID, req.FeedURL)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := importResponse{Entries: make([]importEntryResponse, 0, len(results))}
	for _, res := range results {
		entry := importEntryResponse{
			Link:      res.Link,
			VacancyID: res.VacancyID,
			Created:   res.Created,
		}
		if res.Document != nil {
			doc := toDocumentResponse(res.Document)
			entry.Document = &doc
		}
		if res.Err != nil {
			_, apiErr := mapError(res.Err)
			entry.Error = &middleware.ErrorResponseBody{
				Code:     apiErr.Code,
				Message:  apiErr.Message,
				Category: apiErr.Category,
				Action:   apiErr.Action,
			}
		}
		resp.Entries = append(resp.Entries, entry)
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetVacancy は求人ドキュメントを返す。
// GET /api/vacancies/{id}
func (h *DocumentHandler) GetVacancy(w http.ResponseWriter, r *http.Request) {
	h.getDocument(w, r, model.DocumentKindVacancy)
}

func (h *DocumentHandler) getDocument(w http.ResponseWriter, r *http.Request, kind model.DocumentKind) {
	principalID, err := middleware.PrincipalIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	doc, err := h.documents.Get(r.Context(), principalID, kind, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toDocumentResponse(doc))
}

// --- ヘルパー関数 ---

func writeDocumentResult(w http.ResponseWriter, res *document.Result) {
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, toDocumentResponse(res.Document))
}

// toDocumentResponse はmodel.DocumentからAPIレスポンスに変換する。
func toDocumentResponse(doc *model.Document) documentResponse {
	return documentResponse{
		ID:         doc.ID,
		Kind:       string(doc.Kind),
		Title:      doc.Title,
		SourceHash: doc.SourceHash,
		CreatedAt:  doc.CreatedAt,
		Payload:    doc.Payload,
	}
}
