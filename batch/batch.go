package batch

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"path/filepath"

	"github.com/chaos-io/bgstrip/config"
	"github.com/chaos-io/bgstrip/mask"
	"github.com/chaos-io/bgstrip/util"
	nhttp "github.com/chaos-io/bgstrip/util/http"
)

var ErrNoMatches = errors.New("no files matched")

type Status int

const (
	Failed Status = iota
	Saved
	Skipped
	Missing
	Empty
)

func (s Status) String() string {
	switch s {
	case Saved:
		return "saved"
	case Skipped:
		return "skipped"
	case Missing:
		return "missing"
	case Empty:
		return "empty"
	default:
		return "failed"
	}
}

// Report 单个文件的处理结果
type Report struct {
	Path       string
	Width      int
	Height     int
	Background color.NRGBA
	Outcome    mask.Outcome
	Status     Status
	Err        error
}

// Processor 逐个处理文件，单个失败只记录到 Report，已写入的文件不回滚
type Processor struct {
	Remover mask.Remover
	// MaxSize 大于 0 时先把最长边缩放到 MaxSize 以内
	MaxSize int
	Client  nhttp.IClient
	Logger  *slog.Logger
}

func NewProcessor(remover mask.Remover) *Processor {
	return &Processor{
		Remover: remover,
		Client:  nhttp.NewHTTPClient(),
		Logger:  slog.Default(),
	}
}

// ProcessFile 处理单个文件，只有真正做了遮罩才覆盖原文件
func (p *Processor) ProcessFile(ctx context.Context, path string) (Report, error) {
	rep := Report{Path: path}

	img, err := util.OpenImage(path)
	if err != nil {
		switch {
		case errors.Is(err, util.ErrMissingFile):
			rep.Status = Missing
			p.Logger.Error("file does not exist", "path", path)
		case errors.Is(err, util.ErrEmptyFile):
			rep.Status = Empty
			p.Logger.Error("file is empty (0 bytes), save the image first", "path", path)
		default:
			rep.Status = Failed
			p.Logger.Error("failed to open image", "path", path, "err", err)
		}
		rep.Err = err
		return rep, err
	}

	masked, err := p.apply(ctx, img, &rep)
	if err != nil {
		return p.fail(rep, err)
	}
	if !rep.Outcome.Applied {
		rep.Status = Skipped
		p.Logger.Info("background color not definitive (neither very dark nor very light), skipping removal", "path", path)
		return rep, nil
	}

	if err := util.SavePNG(path, masked); err != nil {
		return p.fail(rep, err)
	}
	rep.Status = Saved
	p.Logger.Info("saved", "path", path, "masked", rep.Outcome.Masked)
	return rep, nil
}

// ProcessGlob 处理 dir 下所有匹配 pattern 的文件，单个失败不影响后续文件
func (p *Processor) ProcessGlob(ctx context.Context, dir, pattern string) ([]Report, error) {
	paths, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}
	if len(paths) == 0 {
		p.Logger.Warn("no files found", "dir", dir, "glob", pattern)
		return nil, fmt.Errorf("%s in %s: %w", pattern, dir, ErrNoMatches)
	}

	defer util.Trace(p.Logger, fmt.Sprintf("batch %s", filepath.Join(dir, pattern)))()

	reports := make([]Report, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		rep, err := p.ProcessFile(ctx, path)
		if err != nil {
			p.Logger.Warn("failed to process, continuing", "path", path, "err", err)
		}
		reports = append(reports, rep)
	}
	return reports, nil
}

// ProcessURL 下载图片，遮罩后写到 out
func (p *Processor) ProcessURL(ctx context.Context, url, out string) (Report, error) {
	rep := Report{Path: out}

	img, err := util.DownloadImage(ctx, p.Client, url)
	if err != nil {
		return p.fail(rep, err)
	}

	masked, err := p.apply(ctx, img, &rep)
	if err != nil {
		return p.fail(rep, err)
	}
	if !rep.Outcome.Applied {
		rep.Status = Skipped
		p.Logger.Info("background color not definitive, nothing written", "url", url)
		return rep, nil
	}

	if err := util.SavePNG(out, masked); err != nil {
		return p.fail(rep, err)
	}
	rep.Status = Saved
	p.Logger.Info("saved", "url", url, "path", out, "masked", rep.Outcome.Masked)
	return rep, nil
}

// RunJob 按任务配置选择策略并执行
func (p *Processor) RunJob(ctx context.Context, job config.Job) ([]Report, error) {
	remover, err := mask.NewRemover(job.Policy, job.Threshold)
	if err != nil {
		return nil, err
	}

	jp := *p
	jp.Remover = remover
	jp.MaxSize = job.MaxSize
	if job.Name != "" {
		jp.Logger = p.Logger.With("job", job.Name)
	}

	switch {
	case job.Dir != "":
		return jp.ProcessGlob(ctx, job.Dir, job.Glob)
	case job.URL != "":
		rep, err := jp.ProcessURL(ctx, job.URL, job.Out)
		return []Report{rep}, err
	default:
		rep, err := jp.ProcessFile(ctx, job.Path)
		return []Report{rep}, err
	}
}

func (p *Processor) apply(ctx context.Context, img image.Image, rep *Report) (*image.NRGBA, error) {
	nrgba := mask.ResizeWithinMax(mask.ToNRGBA(img), p.MaxSize)

	b := nrgba.Bounds()
	rep.Width, rep.Height = b.Dx(), b.Dy()
	rep.Background, _ = mask.Sample(nrgba)
	p.Logger.Info("processing", "path", rep.Path, "size", fmt.Sprintf("%dx%d", rep.Width, rep.Height),
		"transparent", mask.HasTransparency(nrgba))

	outcome, err := p.Remover.Remove(ctx, nrgba)
	if err != nil {
		return nil, err
	}
	rep.Outcome = outcome
	p.Logger.Info("detected background", "color", rep.Background, "class", outcome.Classification)
	return nrgba, nil
}

func (p *Processor) fail(rep Report, err error) (Report, error) {
	rep.Status = Failed
	rep.Err = err
	p.Logger.Error("failed to process image", "path", rep.Path, "err", err)
	return rep, err
}
