// Package pdf validates incoming PDF documents and rasterizes their pages
package pdf

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/AyanbekDos/smeta-2/internal/common"
	"github.com/AyanbekDos/smeta-2/internal/interfaces"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/ternarybob/arbor"
	"golang.org/x/image/draw"
)

const resizeStep = 0.75

// JPEG qualities tried in order once lossless PNG is over budget
var jpegQualities = []int{90, 75, 60, 45}

// Service reads PDF structure with pdfcpu and renders pages with pdftoppm
type Service struct {
	pdftoppm string
	tempDir  string
	runner   Runner
	logger   arbor.ILogger
}

// NewService creates a PDF service
func NewService(config *common.PDFConfig, logger arbor.ILogger) *Service {
	binary := config.Pdftoppm
	if binary == "" {
		binary = "pdftoppm"
	}
	return &Service{
		pdftoppm: binary,
		tempDir:  config.TempDir,
		runner:   execRunner{logger: logger},
		logger:   logger,
	}
}

// WithRunner replaces the command runner
func (s *Service) WithRunner(runner Runner) *Service {
	s.runner = runner
	return s
}

// PageCount returns the number of pages in the document
func (s *Service) PageCount(data []byte) (int, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	pdfCtx, err := api.ReadContext(bytes.NewReader(data), conf)
	if err != nil {
		return 0, fmt.Errorf("failed to read PDF: %w", err)
	}
	// ReadContext leaves PageCount unset until the page tree is walked
	if err := pdfCtx.EnsurePageCount(); err != nil {
		return 0, fmt.Errorf("failed to count PDF pages: %w", err)
	}
	return pdfCtx.PageCount, nil
}

// ValidateLimits checks the size and page limits and returns the page count
func (s *Service) ValidateLimits(data []byte, maxBytes int64, maxPages int) (int, error) {
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return 0, fmt.Errorf("%w: %d bytes (limit %d)", interfaces.ErrDocumentTooLarge, len(data), maxBytes)
	}

	pages, err := s.PageCount(data)
	if err != nil {
		return 0, err
	}
	if maxPages > 0 && pages > maxPages {
		return pages, fmt.Errorf("%w: %d pages (limit %d)", interfaces.ErrTooManyPages, pages, maxPages)
	}
	return pages, nil
}

// RenderPage rasterizes one 1-based page to PNG at the given DPI
func (s *Service) RenderPage(ctx context.Context, data []byte, page, dpi int) ([]byte, error) {
	if page < 1 {
		return nil, fmt.Errorf("%w: %d", interfaces.ErrPageOutOfRange, page)
	}

	dir, err := os.MkdirTemp(s.tempDir, "smeta-page-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			s.logger.Warn().Err(err).Str("dir", dir).Msg("Failed to remove temp dir")
		}
	}()

	input := filepath.Join(dir, "input.pdf")
	if err := os.WriteFile(input, data, 0600); err != nil {
		return nil, fmt.Errorf("failed to write temp PDF: %w", err)
	}

	prefix := filepath.Join(dir, "page")
	pageArg := strconv.Itoa(page)
	// pdftoppm -r <dpi> -png -f <page> -l <page> -singlefile <in.pdf> <prefix>
	_, stderr, err := s.runner.Run(ctx, s.pdftoppm,
		"-r", strconv.Itoa(dpi),
		"-png",
		"-f", pageArg,
		"-l", pageArg,
		"-singlefile",
		input, prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("pdftoppm failed on page %d: %w: %s", page, err, truncate(string(stderr), 512))
	}

	out, err := os.ReadFile(prefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("pdftoppm produced no image for page %d: %w", page, err)
	}

	s.logger.Debug().
		Int("page", page).
		Int("dpi", dpi).
		Int("bytes", len(out)).
		Msg("Page rendered")

	return out, nil
}

// FitForTransport shrinks a page image until it is at most maxBytes and its
// longest side at most maxSide. Each scale step tries lossless PNG first and
// then JPEG at falling quality, so the result may change format; callers
// detect the type from the returned bytes. Images already within limits are
// returned unchanged.
func (s *Service) FitForTransport(data []byte, maxBytes int, maxSide int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	longest := max(bounds.Dx(), bounds.Dy())
	if len(data) <= maxBytes && longest <= maxSide {
		return data, nil
	}

	scale := 1.0
	if longest > maxSide {
		scale = float64(maxSide) / float64(longest)
	}
	if len(data) > maxBytes {
		scale = math.Min(scale, math.Sqrt(float64(maxBytes)/float64(len(data))))
	}

	for {
		w := max(int(float64(bounds.Dx())*scale), 1)
		h := max(int(float64(bounds.Dy())*scale), 1)

		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)

		out, format, err := encodeWithin(dst, maxBytes)
		if err != nil {
			return nil, err
		}

		s.logger.Debug().
			Int("width", w).
			Int("height", h).
			Int("bytes", len(out)).
			Str("format", format).
			Msg("Page image downscaled")

		if len(out) <= maxBytes {
			return out, nil
		}
		if w == 1 && h == 1 {
			return nil, fmt.Errorf("image does not fit in %d bytes (smallest encoding %d bytes)", maxBytes, len(out))
		}
		scale *= resizeStep
	}
}

// encodeWithin returns the first encoding of img that fits maxBytes, or the
// smallest one tried when none fits
func encodeWithin(img image.Image, maxBytes int) ([]byte, string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, "", fmt.Errorf("encode png: %w", err)
	}
	best, format := buf.Bytes(), "png"
	if len(best) <= maxBytes {
		return best, format, nil
	}

	for _, quality := range jpegQualities {
		var jbuf bytes.Buffer
		if err := jpeg.Encode(&jbuf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, "", fmt.Errorf("encode jpeg: %w", err)
		}
		if jbuf.Len() < len(best) {
			best, format = jbuf.Bytes(), "jpeg"
		}
		if len(best) <= maxBytes {
			break
		}
	}
	return best, format, nil
}
