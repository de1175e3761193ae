package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ArionMiles/moneytracker/pkg/api"
	"github.com/ArionMiles/moneytracker/pkg/review"
	"github.com/ArionMiles/moneytracker/pkg/settings"
	"github.com/ArionMiles/moneytracker/pkg/transfer"
)

func (s *Server) listCandidates(c *gin.Context) {
	candidates, err := s.deps.Review.Candidates(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(candidates))
}

func (s *Server) confirmCandidate(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var choice review.CategoryChoice
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&choice); err != nil {
			badRequest(c, err)
			return
		}
	}
	t, err := s.deps.Review.Confirm(c.Request.Context(), id, choice)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (s *Server) dismissCandidate(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.deps.Review.Dismiss(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listTransactions(c *gin.Context) {
	txs, err := s.deps.Review.Transactions(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(txs))
}

func (s *Server) addTransaction(c *gin.Context) {
	var entry review.ManualEntry
	if err := c.ShouldBindJSON(&entry); err != nil {
		badRequest(c, err)
		return
	}
	t, err := s.deps.Review.AddManual(c.Request.Context(), entry)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

type recategorizeRequest struct {
	CategoryID *int64 `json:"category_id"`
}

func (s *Server) recategorize(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req recategorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.deps.Review.Recategorize(c.Request.Context(), id, req.CategoryID); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) deleteTransaction(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.deps.Review.DeleteTransaction(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listCategories(c *gin.Context) {
	cats, err := s.deps.Review.Categories(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(cats))
}

type categoryRequest struct {
	Name string `json:"name"`
}

func (s *Server) createCategory(c *gin.Context) {
	var req categoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	cat, err := s.deps.Review.CreateCategory(c.Request.Context(), req.Name)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, cat)
}

func (s *Server) renameCategory(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req categoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.deps.Review.RenameCategory(c.Request.Context(), id, req.Name); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, api.Category{ID: id, Name: req.Name})
}

func (s *Server) deleteCategory(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.deps.Review.DeleteCategory(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) getSettings(c *gin.Context) {
	us, err := s.deps.Settings.Load(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, us)
}

func (s *Server) updateSettings(c *gin.Context) {
	var u settings.Update
	if err := c.ShouldBindJSON(&u); err != nil {
		badRequest(c, err)
		return
	}
	us, err := s.deps.Settings.Apply(c.Request.Context(), u)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, us)
}

func (s *Server) summary(c *gin.Context) {
	ctx := c.Request.Context()
	us, err := s.deps.Settings.Load(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}
	sum, err := s.deps.Review.Summary(ctx, us, s.now())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (s *Server) checkRollover(c *gin.Context) {
	out, err := s.deps.Rollover.CheckNow(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) listMonths(c *gin.Context) {
	months, err := s.deps.Review.PastMonths(c.Request.Context(), s.now())
	if err != nil {
		s.fail(c, err)
		return
	}
	type monthInfo struct {
		MonthKey     string `json:"month_key"`
		Archived     bool   `json:"archived"`
		Budget       string `json:"budget"`
		Transactions int    `json:"transactions"`
	}
	out := make([]monthInfo, 0, len(months))
	for _, m := range months {
		out = append(out, monthInfo{
			MonthKey:     m.MonthKey,
			Archived:     m.Archived(),
			Budget:       m.Budget.String(),
			Transactions: len(m.Transactions),
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getMonth(c *gin.Context) {
	ctx := c.Request.Context()
	rec, err := s.deps.Review.Month(ctx, c.Param("key"))
	if err != nil {
		s.fail(c, err)
		return
	}
	us, err := s.deps.Settings.Load(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}
	breakdown, err := s.deps.Review.MonthBreakdown(ctx, rec, us.ThresholdPercent)
	if err != nil {
		s.fail(c, err)
		return
	}
	if rec.Transactions == nil {
		rec.Transactions = []api.Transaction{}
	}
	c.JSON(http.StatusOK, gin.H{"record": rec, "breakdown": breakdown})
}

func exportFormat(c *gin.Context) (transfer.Format, bool) {
	f, err := transfer.ParseFormat(c.DefaultQuery("format", "csv"))
	if err != nil {
		badRequest(c, err)
		return "", false
	}
	return f, true
}

var contentTypes = map[transfer.Format]string{
	transfer.FormatCSV:  "text/csv",
	transfer.FormatJSON: "application/json",
	transfer.FormatXLSX: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

func attachment(c *gin.Context, name string, f transfer.Format) {
	c.Header("Content-Type", contentTypes[f])
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+"."+string(f)))
}

func (s *Server) exportActive(c *gin.Context) {
	f, ok := exportFormat(c)
	if !ok {
		return
	}
	attachment(c, "money_tracker_export_"+s.now().Format("20060102_150405"), f)
	if _, err := s.deps.Transfer.ExportActive(c.Request.Context(), c.Writer, f); err != nil {
		s.logger.Error("export failed", "error", err)
		c.Status(http.StatusInternalServerError)
	}
}

func (s *Server) exportMonth(c *gin.Context) {
	f, ok := exportFormat(c)
	if !ok {
		return
	}
	key := c.Param("key")
	ctx := c.Request.Context()
	// Resolve the month before any header is written.
	if _, err := s.deps.Review.Month(ctx, key); err != nil {
		s.fail(c, err)
		return
	}
	attachment(c, "money_tracker_"+key, f)
	if _, err := s.deps.Transfer.ExportMonth(ctx, key, c.Writer, f); err != nil {
		s.logger.Error("month export failed", "month_key", key, "error", err)
		c.Status(http.StatusInternalServerError)
	}
}

func (s *Server) importTransactions(c *gin.Context) {
	f, err := transfer.ParseFormat(c.Query("format"))
	if err != nil {
		badRequest(c, err)
		return
	}
	mode, err := transfer.ParseMode(c.DefaultQuery("mode", string(transfer.ModeAppend)))
	if err != nil {
		badRequest(c, err)
		return
	}
	res, err := s.deps.Transfer.Import(c.Request.Context(), c.Request.Body, f, mode)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) pushNotification(c *gin.Context) {
	var n api.Notification
	if err := c.ShouldBindJSON(&n); err != nil {
		badRequest(c, err)
		return
	}
	if n.SourceApp == "" {
		badRequest(c, errors.New("source_app is required"))
		return
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.ReceivedAt.IsZero() {
		n.ReceivedAt = s.now().UTC().Truncate(time.Millisecond)
	}
	if err := s.deps.Queue.Offer(&n); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": n.ID})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
