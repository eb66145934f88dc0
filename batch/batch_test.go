package batch

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaos-io/bgstrip/config"
	"github.com/chaos-io/bgstrip/mask"
	"github.com/chaos-io/bgstrip/util"
)

func newTestProcessor(r mask.Remover) *Processor {
	p := NewProcessor(r)
	p.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return p
}

func pngBytes(t *testing.T, pixels ...color.NRGBA) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, len(pixels), 1))
	for x, c := range pixels {
		img.SetNRGBA(x, 0, c)
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func writePNG(t *testing.T, path string, pixels ...color.NRGBA) []byte {
	t.Helper()
	data := pngBytes(t, pixels...)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return data
}

func readPixels(t *testing.T, path string) []color.NRGBA {
	t.Helper()
	img, err := util.OpenImage(path)
	require.NoError(t, err)
	b := img.Bounds()
	var out []color.NRGBA
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out = append(out, color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA))
		}
	}
	return out
}

func TestProcessor_ProcessFile(t *testing.T) {
	ctx := context.Background()
	p := newTestProcessor(mask.NewSampledRemover())

	t.Run("深色背景", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "boss_a.png")
		writePNG(t, path, color.NRGBA{10, 10, 10, 255}, color.NRGBA{200, 200, 200, 255})

		rep, err := p.ProcessFile(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, Saved, rep.Status)
		assert.Equal(t, mask.Dark, rep.Outcome.Classification)
		assert.Equal(t, 2, rep.Width)
		assert.Equal(t, 1, rep.Height)
		assert.Equal(t, color.NRGBA{10, 10, 10, 255}, rep.Background)

		assert.Equal(t, []color.NRGBA{{0, 0, 0, 0}, {200, 200, 200, 255}}, readPixels(t, path))
	})

	t.Run("浅色背景", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "boss_a.png")
		writePNG(t, path, color.NRGBA{220, 230, 225, 255}, color.NRGBA{210, 215, 205, 255}, color.NRGBA{10, 200, 10, 255})

		rep, err := p.ProcessFile(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, Saved, rep.Status)
		assert.Equal(t, mask.Light, rep.Outcome.Classification)

		assert.Equal(t, []color.NRGBA{
			{255, 255, 255, 0},
			{255, 255, 255, 0},
			{10, 200, 10, 255},
		}, readPixels(t, path))
	})

	t.Run("无法判断时不写文件", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "boss_a.png")
		before := writePNG(t, path, color.NRGBA{128, 128, 128, 255}, color.NRGBA{0, 0, 0, 255})

		rep, err := p.ProcessFile(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, Skipped, rep.Status)
		assert.False(t, rep.Outcome.Applied)

		after, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})

	t.Run("空文件", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "boss_a.png")
		require.NoError(t, os.WriteFile(path, nil, 0o644))

		rep, err := p.ProcessFile(ctx, path)
		assert.ErrorIs(t, err, util.ErrEmptyFile)
		assert.Equal(t, Empty, rep.Status)

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Zero(t, info.Size())
	})

	t.Run("文件不存在", func(t *testing.T) {
		rep, err := p.ProcessFile(ctx, filepath.Join(t.TempDir(), "boss_a.png"))
		assert.ErrorIs(t, err, util.ErrMissingFile)
		assert.Equal(t, Missing, rep.Status)
	})

	t.Run("解码失败", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "boss_a.png")
		require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))

		rep, err := p.ProcessFile(ctx, path)
		assert.Error(t, err)
		assert.Equal(t, Failed, rep.Status)
		assert.Equal(t, "failed", rep.Status.String())
	})
}

func TestProcessor_ProcessFile_Paletted(t *testing.T) {
	// 调色板里透明的白色也要按浅色背景处理
	img := image.NewPaletted(image.Rect(0, 0, 3, 1), color.Palette{
		color.NRGBA{255, 255, 255, 0},
		color.NRGBA{10, 10, 10, 255},
		color.NRGBA{230, 230, 230, 255},
	})
	img.SetColorIndex(1, 0, 1)
	img.SetColorIndex(2, 0, 2)

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	path := filepath.Join(t.TempDir(), "icon_p.png")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	rep, err := newTestProcessor(mask.NewSampledRemover()).ProcessFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{255, 255, 255, 0}, rep.Background)
	assert.Equal(t, mask.Light, rep.Outcome.Classification)
	assert.Equal(t, []color.NRGBA{
		{255, 255, 255, 0},
		{10, 10, 10, 255},
		{255, 255, 255, 0},
	}, readPixels(t, path))
}

func TestProcessor_ProcessFile_MaxSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.png")
	pixels := make([]color.NRGBA, 100)
	writePNG(t, path, pixels...)

	p := newTestProcessor(mask.NewFixedRemover(mask.DefaultDarkThreshold))
	p.MaxSize = 10

	rep, err := p.ProcessFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 10, rep.Width)

	img, err := util.OpenImage(path)
	require.NoError(t, err)
	assert.Equal(t, 10, img.Bounds().Dx())
}

func TestProcessor_ProcessGlob(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "icon_a.png"), color.NRGBA{240, 240, 240, 255}, color.NRGBA{10, 20, 30, 255})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "icon_b.png"), []byte("broken"), 0o644))
	writePNG(t, filepath.Join(dir, "icon_c.png"), color.NRGBA{59, 0, 0, 255})
	other := writePNG(t, filepath.Join(dir, "other.png"), color.NRGBA{0, 0, 0, 255})

	p := newTestProcessor(mask.NewFixedRemover(mask.DefaultDarkThreshold))
	reports, err := p.ProcessGlob(context.Background(), dir, config.DefaultGlob)
	require.NoError(t, err)
	require.Len(t, reports, 3)

	assert.Equal(t, Saved, reports[0].Status)
	assert.Equal(t, Failed, reports[1].Status)
	assert.Error(t, reports[1].Err)
	assert.Equal(t, Saved, reports[2].Status)

	// 固定阈值保留原 RGB，只清 alpha
	assert.Equal(t, []color.NRGBA{{240, 240, 240, 255}, {10, 20, 30, 0}}, readPixels(t, filepath.Join(dir, "icon_a.png")))
	assert.Equal(t, []color.NRGBA{{59, 0, 0, 0}}, readPixels(t, filepath.Join(dir, "icon_c.png")))

	got, err := os.ReadFile(filepath.Join(dir, "other.png"))
	require.NoError(t, err)
	assert.Equal(t, other, got)
}

func TestProcessor_ProcessGlob_NoMatches(t *testing.T) {
	p := newTestProcessor(mask.NewSampledRemover())
	_, err := p.ProcessGlob(context.Background(), t.TempDir(), config.DefaultGlob)
	assert.ErrorIs(t, err, ErrNoMatches)

	_, err = p.ProcessGlob(context.Background(), t.TempDir(), "[")
	assert.ErrorIs(t, err, filepath.ErrBadPattern)
}

func TestProcessor_ProcessGlob_Cancelled(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "icon_a.png"), color.NRGBA{0, 0, 0, 255})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newTestProcessor(mask.NewSampledRemover())
	reports, err := p.ProcessGlob(ctx, dir, config.DefaultGlob)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, reports)
}

func TestProcessor_ProcessURL(t *testing.T) {
	payload := pngBytes(t, color.NRGBA{5, 5, 5, 255}, color.NRGBA{100, 100, 100, 255})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	out := filepath.Join(t.TempDir(), "remote.png")
	p := newTestProcessor(mask.NewSampledRemover())

	rep, err := p.ProcessURL(context.Background(), server.URL+"/boss.png", out)
	require.NoError(t, err)
	assert.Equal(t, Saved, rep.Status)
	assert.Equal(t, []color.NRGBA{{0, 0, 0, 0}, {100, 100, 100, 255}}, readPixels(t, out))
}

func TestProcessor_RunJob(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "icon_a.png"), color.NRGBA{10, 20, 30, 255})
	single := filepath.Join(dir, "boss_a.png")
	writePNG(t, single, color.NRGBA{250, 250, 250, 255})

	cfg, err := config.Parse([]byte("jobs:\n  - name: icons\n    dir: " + dir + "\n  - name: boss\n    path: " + single + "\n"))
	require.NoError(t, err)

	p := newTestProcessor(nil)

	reports, err := p.RunJob(context.Background(), cfg.Jobs[0])
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, []color.NRGBA{{10, 20, 30, 0}}, readPixels(t, filepath.Join(dir, "icon_a.png")))

	reports, err = p.RunJob(context.Background(), cfg.Jobs[1])
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, mask.Light, reports[0].Outcome.Classification)
	assert.Equal(t, []color.NRGBA{{255, 255, 255, 0}}, readPixels(t, single))

	_, err = p.RunJob(context.Background(), config.Job{Path: single, Policy: "ai"})
	assert.ErrorIs(t, err, mask.ErrUnknownPolicy)
}

func TestProcessor_RunJob_LogsJobName(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "icon_a.png"), color.NRGBA{10, 20, 30, 255})

	var buf bytes.Buffer
	p := NewProcessor(nil)
	p.Logger = slog.New(slog.NewTextHandler(&buf, nil))

	_, err := p.RunJob(context.Background(), config.Job{Name: "icons", Dir: dir, Glob: config.DefaultGlob})
	require.NoError(t, err)

	// 耗时日志也要带上任务名
	assert.Regexp(t, `msg="exit batch [^"]*icon_\*\.png" job=icons elapsed=`, buf.String())
}
