package web

import (
	"net/http"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/YuminosukeSato/strokeguard/dataset"
	"github.com/YuminosukeSato/strokeguard/internal/history"
	"github.com/YuminosukeSato/strokeguard/internal/pipeline"
	"github.com/YuminosukeSato/strokeguard/pkg/errors"
	"github.com/YuminosukeSato/strokeguard/pkg/log"
	"github.com/YuminosukeSato/strokeguard/predictor"
)

// previewRows is the number of uploaded rows shown on the page.
const previewRows = 5

// invalidCSVMessage is returned for uploads without a .csv extension.
const invalidCSVMessage = "Please upload a valid CSV file."

// page is the data of the upload template.
type page struct {
	Columns  []string
	Kinds    []predictor.Kind
	FileName string
	Header   []string
	Rows     [][]string
	Graphs   []string // one URL per chart, "" when the chart failed
}

func (s *Server) newPage() page {
	return page{Columns: s.cfg.SelectedColumns, Kinds: predictor.Kinds}
}

func (s *Server) index(c *gin.Context) {
	p := s.newPage()
	if up, err := currentSession(c).Upload(); err == nil {
		p.FileName = up.FileName
		p.Header, p.Rows = up.Table.Head(previewRows)
	}
	c.HTML(http.StatusOK, "upload.html", p)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

// upload stores a CSV file in the session, renders a preview and draws the
// exploratory charts.
func (s *Server) upload(c *gin.Context) {
	limit := int64(s.cfg.MaxUploadMB) << 20
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.String(http.StatusRequestEntityTooLarge, "File exceeds %d MB.", s.cfg.MaxUploadMB)
			return
		}
		c.Redirect(http.StatusSeeOther, "/")
		return
	}
	if fh.Filename == "" || fh.Size == 0 {
		c.Redirect(http.StatusSeeOther, "/")
		return
	}
	if !strings.HasSuffix(strings.ToLower(fh.Filename), ".csv") {
		c.String(http.StatusBadRequest, invalidCSVMessage)
		return
	}

	// 元のファイル名はパスに使わない
	stored := filepath.Join(s.cfg.UploadDir, uuid.NewString()+".csv")
	if err := c.SaveUploadedFile(fh, stored); err != nil {
		s.respondError(c, errors.Wrap(err, "store upload"))
		return
	}
	table, err := dataset.LoadFile(stored, dataset.Schema{Numeric: s.cfg.NumericColumns})
	if err != nil {
		s.respondError(c, err)
		return
	}
	if err := dataset.RequireColumns(table, s.cfg.Columns()...); err != nil {
		s.respondError(c, err)
		return
	}

	sess := currentSession(c)
	sess.SetUpload(table, filepath.Base(fh.Filename))
	s.logger.Info("Dataset uploaded",
		log.SessionIDKey, sess.ID,
		log.PathKey, stored,
		log.SamplesKey, table.Nrow(),
		log.ColumnsKey, len(table.Names()),
	)

	s.chartsMu.Lock()
	names := s.charts.GenerateAll(table)
	s.chartsMu.Unlock()

	p := s.newPage()
	p.FileName = filepath.Base(fh.Filename)
	p.Header, p.Rows = table.Head(previewRows)
	p.Graphs = make([]string, len(names))
	for i, name := range names {
		p.Graphs[i] = staticURL(name)
	}
	c.HTML(http.StatusOK, "upload.html", p)
}

// trainResponse is the JSON body of /train.
type trainResponse struct {
	*predictor.Metrics
	Graphs map[string]string `json:"graphs"`
}

// train fits the chosen model on the session's dataset.
func (s *Server) train(c *gin.Context) {
	sess := currentSession(c)
	up, err := sess.Upload()
	if err != nil {
		s.respondError(c, err)
		return
	}
	kind, err := predictor.ParseKind(c.PostForm("model_type"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	grid, err := predictor.ParseGrid(kind, c.PostForm("params"))
	if err != nil {
		s.respondError(c, err)
		return
	}

	m, heldOut, err := pipeline.Train(s.cfg, up.Table, kind, grid)
	if err != nil {
		s.respondError(c, err)
		return
	}

	s.chartsMu.Lock()
	charts, err := m.GeneratePredictionGraphs(heldOut, s.cfg.StaticDir)
	s.chartsMu.Unlock()
	if err != nil {
		s.respondError(c, err)
		return
	}

	s.modelMu.Lock()
	err = m.Save(s.cfg.ModelPath)
	s.modelMu.Unlock()
	if err != nil {
		s.respondError(c, err)
		return
	}
	sess.SetModel(m)

	if run, err := history.NewRun(sess.ID, m.Metrics, charts); err == nil {
		if err := s.history.Record(c.Request.Context(), run); err != nil {
			// 履歴の失敗は学習結果を無効にしない
			s.logger.Warn("Could not record training run", err, log.SessionIDKey, sess.ID)
		}
	}

	urls := make(map[string]string, len(charts))
	for k, name := range charts {
		urls[k] = staticURL(name)
	}
	c.JSON(http.StatusOK, trainResponse{Metrics: m.Metrics, Graphs: urls})
}

// predict classifies one record sent as form fields or a JSON object.
func (s *Server) predict(c *gin.Context) {
	record, err := s.readRecord(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	m, err := s.model(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	pred, err := m.PredictRecord(record)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, pred)
}

func (s *Server) readRecord(c *gin.Context) (map[string]any, error) {
	if c.ContentType() == gin.MIMEJSON {
		var record map[string]any
		if err := c.ShouldBindJSON(&record); err != nil {
			return nil, errors.NewValueError("predict", "body is not a JSON object: "+err.Error())
		}
		return record, nil
	}
	if err := c.Request.ParseForm(); err != nil {
		return nil, errors.NewValueError("predict", "invalid form: "+err.Error())
	}
	record := make(map[string]any, len(c.Request.PostForm))
	for k, v := range c.Request.PostForm {
		if len(v) > 0 {
			record[k] = v[0]
		}
	}
	return record, nil
}

// model returns the session's model, falling back to the persisted one.
func (s *Server) model(c *gin.Context) (*predictor.Model, error) {
	sess := currentSession(c)
	if m, err := sess.Model(); err == nil {
		return m, nil
	}
	m := predictor.New(nil)
	s.modelMu.RLock()
	err := m.Load(s.cfg.ModelPath)
	s.modelMu.RUnlock()
	if err != nil {
		return nil, err
	}
	sess.SetModel(m)
	return m, nil
}

func (s *Server) runs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	runs, err := s.history.List(c.Request.Context(), limit)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func staticURL(name string) string {
	if name == "" {
		return ""
	}
	return path.Join("/static", name)
}
