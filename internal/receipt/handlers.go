package receipt

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/zombor/expense-tracker/internal/account"
	"github.com/zombor/expense-tracker/internal/apperr"
	"github.com/zombor/expense-tracker/internal/scanning"
)

// writeJSON writes v as a JSON response
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError maps err onto a status code and an {"error": ...} body. Server
// side failures are logged with the action that failed.
func writeError(w http.ResponseWriter, err error, action string) {
	code := apperr.Status(err)
	if code >= http.StatusInternalServerError {
		slog.Error("Request failed", "action", action, "status", code, "error", err)
	}
	writeJSON(w, code, map[string]string{"error": apperr.Message(err)})
}

// decodeJSON reads a JSON request body into v
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Validation("Invalid request body")
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSignup creates an account
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req account.SignupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err, "signup")
		return
	}
	user, err := s.accounts.Signup(req)
	if err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			// duplicate usernames are reported as a bad request
			err = apperr.Validation("%s", apperr.Message(err))
		}
		writeError(w, err, "signup")
		return
	}
	writeJSON(w, http.StatusCreated, user.Summarize())
}

// handleLogin verifies credentials and starts a session
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err, "login")
		return
	}
	user, err := s.accounts.Authenticate(req.Username, req.Password)
	if err != nil {
		writeError(w, err, "login")
		return
	}
	token, err := s.sessions.Issue(user.Username)
	if err != nil {
		writeError(w, err, "login")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     account.SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.sessions.TTL().Seconds()),
		HttpOnly: true,
		Secure:   s.config.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	slog.Info("User logged in", "username", user.Username)

	summary := user.Summarize()
	writeJSON(w, http.StatusOK, map[string]any{
		"username": summary.Username,
		"role":     summary.Role,
		"team":     summary.Team,
		"token":    token,
	})
}

// handleLogout clears the session cookie
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     account.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   s.config.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

// handleMe returns the current actor
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	team := actor.Team
	if team == nil {
		team = []string{}
	}
	writeJSON(w, http.StatusOK, account.Summary{Username: actor.Username, Role: actor.Role, Team: team})
}

// handleListUsers lists users with the plain user role
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.accounts.ListPlainUsers()
	if err != nil {
		writeError(w, err, "listing users")
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// handleGetUser returns another user's role and team
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	summary, err := s.accounts.GetUserDetail(actorFrom(r), r.PathValue("username"))
	if err != nil {
		writeError(w, err, "getting user")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleSetRole changes a user's role and team
func (s *Server) handleSetRole(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Role account.Role `json:"role"`
		Team []string     `json:"team"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err, "setting role")
		return
	}
	summary, err := s.accounts.SetRole(actorFrom(r), r.PathValue("username"), req.Role, req.Team)
	if err != nil {
		writeError(w, err, "setting role")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleListReceipts returns the caller's visibility set
func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	receipts, err := s.service.ListVisible(actorFrom(r))
	if err != nil {
		writeError(w, err, "listing receipts")
		return
	}
	writeJSON(w, http.StatusOK, receipts)
}

// handleUploadReceipt stores an upload and returns the extracted draft
func (s *Server) handleUploadReceipt(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.config.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, apperr.Validation("File is too large. Maximum size is %dMB.", s.config.MaxUploadBytes>>20), "uploading receipt")
			return
		}
		writeError(w, apperr.Validation("Error parsing form"), "uploading receipt")
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, apperr.Validation("No file uploaded"), "uploading receipt")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		writeError(w, fmt.Errorf("reading upload: %w", err), "uploading receipt")
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = contentTypeOf(header.Filename)
	}
	contentType = strings.ToLower(strings.TrimSpace(contentType))

	receipt, err := s.service.UploadAndExtract(r.Context(), actorFrom(r), header.Filename, data, contentType)
	if err != nil {
		writeError(w, err, "uploading receipt")
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// handleDiscardDraft removes an upload the caller decided not to save
func (s *Server) handleDiscardDraft(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DiscardDraft(actorFrom(r), r.PathValue("filename")); err != nil {
		writeError(w, err, "discarding draft")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSaveReceipt persists a reviewed draft
func (s *Server) handleSaveReceipt(w http.ResponseWriter, r *http.Request) {
	var payload Receipt
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, err, "saving receipt")
		return
	}
	receipt, err := s.service.SaveReceipt(actorFrom(r), payload)
	if err != nil {
		writeError(w, err, "saving receipt")
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

// handleUpdateReceipt overwrites the editable fields of a receipt
func (s *Server) handleUpdateReceipt(w http.ResponseWriter, r *http.Request) {
	var payload OwnedReceipt
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, err, "updating receipt")
		return
	}
	receipt, err := s.service.UpdateReceipt(actorFrom(r), payload.Username, payload.Receipt)
	if err != nil {
		writeError(w, err, "updating receipt")
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// handleUpdateStatus changes the review status of a receipt
func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username    string `json:"username"`
		ProcessedAt string `json:"processed_at"`
		Status      Status `json:"status"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err, "updating status")
		return
	}
	receipt, err := s.service.UpdateStatus(actorFrom(r), req.Username, req.ProcessedAt, req.Status)
	if err != nil {
		writeError(w, err, "updating status")
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// handleDeleteReceipt deletes a receipt identified by owner and processed_at
func (s *Server) handleDeleteReceipt(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if err := s.service.DeleteReceipt(actorFrom(r), q.Get("username"), q.Get("processed_at")); err != nil {
		writeError(w, err, "deleting receipt")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetReceiptFile streams an uploaded file
func (s *Server) handleGetReceiptFile(w http.ResponseWriter, r *http.Request) {
	filename := filepath.Base(r.PathValue("filename"))
	data, contentType, err := s.service.FetchBlob(actorFrom(r), filename)
	if err != nil {
		writeError(w, err, "fetching file")
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, no-store")
	w.Write(data)
}

// handleChat answers a question about the caller's receipts
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message             string             `json:"message"`
		ConversationHistory []scanning.Message `json:"conversation_history"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err, "chat")
		return
	}
	answer, err := s.service.Chat(r.Context(), actorFrom(r), req.Message, req.ConversationHistory)
	if err != nil {
		writeError(w, err, "chat")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"response": answer})
}

// handleTeamReport returns the supervisor's team report as a PDF download
func (s *Server) handleTeamReport(w http.ResponseWriter, r *http.Request) {
	doc, name, err := s.service.TeamReport(actorFrom(r))
	if err != nil {
		writeError(w, err, "generating team report")
		return
	}
	slog.Info("Team report generated", "username", actorFrom(r).Username, "stored_as", name)

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="team_report_%s.pdf"`, time.Now().Format("20060102")))
	w.Write(doc)
}
