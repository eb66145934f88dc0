package util

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	// 注册常见解码器
	_ "image/gif"
	_ "image/jpeg"

	"github.com/segmentio/ksuid"
	_ "golang.org/x/image/webp"

	nhttp "github.com/chaos-io/bgstrip/util/http"
)

var (
	ErrMissingFile = errors.New("file does not exist")
	ErrEmptyFile   = errors.New("file is empty (0 bytes)")
)

// DownloadImage 下载图片
func DownloadImage(ctx context.Context, cli nhttp.IClient, url string) (image.Image, error) {
	var data []byte
	err := cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI: url,
		Method:     "GET",
		Response:   &data,
	})
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", url, err)
	}

	img, _, err := DecodeImageBytes(data)
	return img, err
}

// OpenImage 打开本地图片，不存在或 0 字节时分别返回 ErrMissingFile / ErrEmptyFile
func OpenImage(path string) (image.Image, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, ErrMissingFile)
		}
		return nil, err
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrEmptyFile)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	img, _, err := DecodeImageBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// DecodeImageBytes 解码图片，返回格式名（png、jpeg、webp 等）
func DecodeImageBytes(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", ErrEmptyFile
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	return img, format, nil
}

// EncodePNG 编码为 PNG
func EncodePNG(w io.Writer, img image.Image) error {
	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return nil
}

// SavePNG 先写到同目录的临时文件再 rename，编码失败时原文件保持不变；已有文件的权限会保留
func SavePNG(path string, img image.Image) error {
	var buf bytes.Buffer
	if err := EncodePNG(&buf, img); err != nil {
		return err
	}

	perm := fs.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		perm = info.Mode().Perm()
	}

	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+"."+ksuid.New().String()+".tmp")
	if err := writeFile(tmp, buf.Bytes(), perm); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// writeFile 创建时的权限受 umask 影响，所以写完再 chmod 一次
func writeFile(name string, data []byte, perm fs.FileMode) error {
	if err := os.WriteFile(name, data, perm); err != nil {
		return err
	}
	return os.Chmod(name, perm)
}

// Trace 记录耗时，用法: defer util.Trace(logger, "batch")()
func Trace(logger *slog.Logger, msg string) func() {
	start := time.Now()
	logger.Debug("enter " + msg)
	return func() {
		logger.Info("exit "+msg, "elapsed", time.Since(start))
	}
}
