package handler

import (
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/david-nichamoff/fizit-demo-sub001/backend/middleware"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/model"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/service"
	"github.com/gin-gonic/gin"
)

// ContractHandler serves contract bookkeeping: contracts, parties,
// transactions, settlements and artifacts.
type ContractHandler struct {
	app *service.AppContext
}

func NewContractHandler(app *service.AppContext) *ContractHandler {
	return &ContractHandler{app: app}
}

func (h *ContractHandler) List(c *gin.Context) {
	kind, ok := kindParam(c)
	if !ok {
		return
	}
	contracts, err := h.app.ListContracts(c.Request.Context(), kind, middleware.GetCredential(c))
	respond(c, http.StatusOK, contracts, err)
}

func (h *ContractHandler) Count(c *gin.Context) {
	kind, ok := kindParam(c)
	if !ok {
		return
	}
	n, err := h.app.ContractCount(c.Request.Context(), kind)
	respond(c, http.StatusOK, gin.H{"count": n}, err)
}

func (h *ContractHandler) Add(c *gin.Context) {
	kind, ok := kindParam(c)
	if !ok {
		return
	}
	in, ok := bindObject(c)
	if !ok {
		return
	}
	idx, err := h.app.AddContract(c.Request.Context(), kind, in)
	respond(c, http.StatusCreated, gin.H{"contract_idx": idx}, err)
}

func (h *ContractHandler) Get(c *gin.Context) {
	kind, idx, ok := contractParams(c)
	if !ok {
		return
	}
	contract, err := h.app.GetContract(c.Request.Context(), kind, idx, middleware.GetCredential(c))
	respond(c, http.StatusOK, contract, err)
}

func (h *ContractHandler) Update(c *gin.Context) {
	kind, idx, ok := contractParams(c)
	if !ok {
		return
	}
	in, ok := bindObject(c)
	if !ok {
		return
	}
	err := h.app.UpdateContract(c.Request.Context(), kind, idx, in)
	respond(c, http.StatusOK, gin.H{"contract_idx": idx}, err)
}

func (h *ContractHandler) Delete(c *gin.Context) {
	kind, idx, ok := contractParams(c)
	if !ok {
		return
	}
	err := h.app.DeleteContract(c.Request.Context(), kind, idx)
	respond(c, http.StatusOK, gin.H{"contract_idx": idx}, err)
}

// Variables lists the names a transaction's transact_data must carry.
func (h *ContractHandler) Variables(c *gin.Context) {
	kind, idx, ok := contractParams(c)
	if !ok {
		return
	}
	vars, err := h.app.TransactionVariables(c.Request.Context(), kind, idx)
	respond(c, http.StatusOK, vars, err)
}

func (h *ContractHandler) GetParties(c *gin.Context) {
	kind, idx, ok := contractParams(c)
	if !ok {
		return
	}
	parties, err := h.app.GetParties(c.Request.Context(), kind, idx)
	respond(c, http.StatusOK, parties, err)
}

func (h *ContractHandler) AddParties(c *gin.Context) {
	kind, idx, ok := contractParams(c)
	if !ok {
		return
	}
	items, ok := bindList(c)
	if !ok {
		return
	}
	n, err := h.app.AddParties(c.Request.Context(), kind, idx, items)
	respondCount(c, n, err)
}

func (h *ContractHandler) ApproveParty(c *gin.Context) {
	kind, idx, ok := contractParams(c)
	if !ok {
		return
	}
	partyIdx, ok := intParam(c, "party_idx")
	if !ok {
		return
	}
	err := h.app.ApproveParty(c.Request.Context(), kind, idx, partyIdx, middleware.GetPrincipal(c))
	respond(c, http.StatusOK, gin.H{"party_idx": partyIdx}, err)
}

func (h *ContractHandler) DeleteParties(c *gin.Context) {
	kind, idx, ok := contractParams(c)
	if !ok {
		return
	}
	err := h.app.DeleteParties(c.Request.Context(), kind, idx)
	respond(c, http.StatusOK, gin.H{"contract_idx": idx}, err)
}

// GetTransactions honours the optional transact_min_dt and transact_max_dt
// query bounds.
func (h *ContractHandler) GetTransactions(c *gin.Context) {
	kind, idx, ok := contractParams(c)
	if !ok {
		return
	}
	var within service.DateRange
	for name, dst := range map[string]*time.Time{"transact_min_dt": &within.From, "transact_max_dt": &within.To} {
		if v := c.Query(name); v != "" {
			t, err := model.ParseTime(v)
			if err != nil {
				badRequest(c, name+": "+err.Error())
				return
			}
			*dst = t
		}
	}
	txns, err := h.app.GetTransactions(c.Request.Context(), kind, idx, middleware.GetCredential(c), within)
	respond(c, http.StatusOK, txns, err)
}

func (h *ContractHandler) AddTransactions(c *gin.Context) {
	kind, idx, ok := contractParams(c)
	if !ok {
		return
	}
	items, ok := bindList(c)
	if !ok {
		return
	}
	n, err := h.app.AddTransactions(c.Request.Context(), kind, idx, items)
	respondCount(c, n, err)
}

func (h *ContractHandler) DeleteTransactions(c *gin.Context) {
	kind, idx, ok := contractParams(c)
	if !ok {
		return
	}
	err := h.app.DeleteTransactions(c.Request.Context(), kind, idx)
	respond(c, http.StatusOK, gin.H{"contract_idx": idx}, err)
}

func (h *ContractHandler) GetSettlements(c *gin.Context) {
	kind, idx, ok := contractParams(c)
	if !ok {
		return
	}
	settles, err := h.app.GetSettlements(c.Request.Context(), kind, idx, middleware.GetCredential(c))
	respond(c, http.StatusOK, settles, err)
}

func (h *ContractHandler) AddSettlements(c *gin.Context) {
	kind, idx, ok := contractParams(c)
	if !ok {
		return
	}
	items, ok := bindList(c)
	if !ok {
		return
	}
	n, err := h.app.AddSettlements(c.Request.Context(), kind, idx, items)
	respondCount(c, n, err)
}

func (h *ContractHandler) DeleteSettlements(c *gin.Context) {
	kind, idx, ok := contractParams(c)
	if !ok {
		return
	}
	err := h.app.DeleteSettlements(c.Request.Context(), kind, idx)
	respond(c, http.StatusOK, gin.H{"contract_idx": idx}, err)
}

func (h *ContractHandler) GetArtifacts(c *gin.Context) {
	kind, idx, ok := contractParams(c)
	if !ok {
		return
	}
	arts, err := h.app.GetArtifacts(c.Request.Context(), kind, idx, middleware.GetCredential(c))
	respond(c, http.StatusOK, arts, err)
}

var allowedArtifactTypes = map[string]string{
	".pdf":  "application/pdf",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".csv":  "text/csv",
}

// UploadArtifact accepts a multipart "file" with optional doc_title and
// doc_type form fields.
func (h *ContractHandler) UploadArtifact(c *gin.Context) {
	kind, idx, ok := contractParams(c)
	if !ok {
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		badRequest(c, "No file provided")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	expected, ok := allowedArtifactTypes[ext]
	if !ok {
		badRequest(c, "Unsupported file type "+ext)
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = expected
	} else if ext == ".pdf" && !strings.Contains(contentType, "pdf") {
		// Sniff the header when the client mislabels a PDF
		buffer := make([]byte, 512)
		n, err := file.Read(buffer)
		if err != nil && err != io.EOF {
			badRequest(c, "Failed to read file")
			return
		}
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			respond(c, 0, nil, err)
			return
		}
		detected := http.DetectContentType(buffer[:n])
		if !strings.Contains(detected, "pdf") && detected != "application/octet-stream" {
			badRequest(c, "Invalid file type")
			return
		}
		contentType = expected
	}

	title := c.PostForm("doc_title")
	if title == "" {
		title = header.Filename
	}
	n, err := h.app.AddArtifact(c.Request.Context(), kind, idx, service.Document{
		Title:       title,
		Type:        c.DefaultPostForm("doc_type", strings.TrimPrefix(ext, ".")),
		ContentType: contentType,
		Size:        header.Size,
		Body:        file,
	})
	respond(c, http.StatusCreated, gin.H{"artifact_idx": n}, err)
}

func (h *ContractHandler) DeleteArtifacts(c *gin.Context) {
	kind, idx, ok := contractParams(c)
	if !ok {
		return
	}
	err := h.app.DeleteArtifacts(c.Request.Context(), kind, idx)
	respond(c, http.StatusOK, gin.H{"contract_idx": idx}, err)
}
