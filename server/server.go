package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chaos-io/bgstrip/mask"
	"github.com/chaos-io/bgstrip/util"
)

const (
	maxUploadBytes = 32 << 20

	HeaderClassification = "X-Background-Classification"
	HeaderMaskedPixels   = "X-Masked-Pixels"
)

type Server struct {
	addr   string
	engine *gin.Engine
	logger *slog.Logger
	// 上传大小上限，超过时返回 413
	maxUpload int64
}

func New(addr string, logger *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		addr:      addr,
		engine:    gin.New(),
		logger:    logger,
		maxUpload: maxUploadBytes,
	}
	s.engine.Use(gin.Recovery(), s.accessLog())
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.POST("/v1/remove", s.remove)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run 阻塞直到 ctx 结束，然后优雅关闭
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// remove 请求体是原始图片，或 multipart 的 image 字段；返回 PNG
func (s *Server) remove(c *gin.Context) {
	threshold := 0
	if v := c.Query("threshold"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid threshold"})
			return
		}
		threshold = n
	}

	remover, err := mask.NewRemover(c.Query("policy"), threshold)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	data, err := s.readUpload(c)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("image larger than %d bytes", tooLarge.Limit)})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty image data"})
		return
	}

	img, format, err := util.DecodeImageBytes(data)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	nrgba := mask.ToNRGBA(img)
	outcome, err := remover.Remove(c.Request.Context(), nrgba)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var buf bytes.Buffer
	if err := util.EncodePNG(&buf, nrgba); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.logger.Debug("removed background", "format", format, "class", outcome.Classification, "masked", outcome.Masked)
	c.Header(HeaderClassification, outcome.Classification.String())
	c.Header(HeaderMaskedPixels, strconv.Itoa(outcome.Masked))
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}

// readUpload 只有 multipart/form-data 才按表单读 image 字段，其它 Content-Type 一律把请求体当作图片
func (s *Server) readUpload(c *gin.Context) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUpload)

	if c.ContentType() != gin.MIMEMultipartPOSTForm {
		return io.ReadAll(c.Request.Body)
	}

	fh, err := c.FormFile("image")
	if err != nil {
		return nil, fmt.Errorf("read form file: %w", err)
	}
	if fh.Size > s.maxUpload {
		return nil, &http.MaxBytesError{Limit: s.maxUpload}
	}
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()
	return io.ReadAll(f)
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed", time.Since(start),
		)
	}
}
