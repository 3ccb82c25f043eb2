package handler

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/vidvault/api/internal/model"
	"github.com/vidvault/api/internal/reconstitute"
	"github.com/vidvault/api/internal/service"
	"github.com/vidvault/api/pkg/response"
)

const streamChunkSize = 256 * 1024

type StreamHandler struct {
	service   *service.StreamService
	validator *validator.Validate
}

func NewStreamHandler(svc *service.StreamService, v *validator.Validate) *StreamHandler {
	return &StreamHandler{
		service:   svc,
		validator: v,
	}
}

// Reconstitute handles POST /api/reconstitute
// @Summary      Reconstitute a stored item
// @Description  Merge stored artifacts back into a playable video, optionally applying the diff track
// @Tags         Stream
// @Accept       json
// @Produce      json
// @Param        request body model.ReconstituteRequest true "Reconstitute request"
// @Success      200 {object} model.ReconstituteResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Failure      502 {object} response.ErrorResponse
// @Router       /api/reconstitute [post]
func (h *StreamHandler) Reconstitute(c *fiber.Ctx) error {
	var req model.ReconstituteRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Reconstitute(c.Context(), req.ID, req.UseDiff)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			return response.NotFound(c, "Item not found")
		case errors.Is(err, reconstitute.ErrMissingArtifacts):
			return response.Conflict(c, err.Error())
		default:
			return response.EngineError(c, err.Error())
		}
	}
	return response.OK(c, result)
}

// Info handles GET /api/stream/:id/info
// @Summary      Stream metadata
// @Description  Return the filename and byte size of the streamable output without the body
// @Tags         Stream
// @Produce      json
// @Param        id path string true "Item ID"
// @Success      200 {object} model.StreamInfoResponse
// @Failure      404 {object} response.ErrorResponse
// @Router       /api/stream/{id}/info [get]
func (h *StreamHandler) Info(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return response.ValidationError(c, "Item ID is required", nil)
	}

	result, err := h.service.Info(id)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) || errors.Is(err, service.ErrNoOutput) {
			return response.NotFound(c, err.Error())
		}
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, result)
}

// Stream handles GET /stream/:id
// @Summary      Stream reconstituted video
// @Description  Serve the reconstituted output with byte-range support
// @Tags         Stream
// @Produce      video/mp4
// @Param        id path string true "Item ID"
// @Param        Range header string false "Byte range, e.g. bytes=0-1023"
// @Success      200 {file} binary
// @Success      206 {file} binary
// @Failure      404 {object} response.ErrorResponse
// @Failure      416 {object} response.ErrorResponse
// @Router       /stream/{id} [get]
func (h *StreamHandler) Stream(c *fiber.Ctx) error {
	id := c.Params("id")
	path, err := h.service.FilePath(id)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) || errors.Is(err, service.ErrNoOutput) {
			return response.NotFound(c, err.Error())
		}
		return response.ServiceError(c, err.Error())
	}

	fi, err := os.Stat(path)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	size := fi.Size()

	start, end := int64(0), size-1
	ranged := false
	if hdr := c.Get(fiber.HeaderRange); hdr != "" {
		start, end, err = parseRange(hdr, size)
		if err != nil {
			c.Set(fiber.HeaderContentRange, fmt.Sprintf("bytes */%d", size))
			return response.Error(c, fiber.StatusRequestedRangeNotSatisfiable,
				response.CodeValidationError, err.Error(), nil)
		}
		ranged = true
	}
	length := end - start + 1

	f, err := os.Open(path)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		f.Close()
		return response.ServiceError(c, err.Error())
	}

	c.Set(fiber.HeaderAcceptRanges, "bytes")
	c.Set(fiber.HeaderContentType, "video/mp4")
	c.Set(fiber.HeaderContentDisposition, `inline; filename="`+filepath.Base(path)+`"`)
	if ranged {
		c.Set(fiber.HeaderContentRange, fmt.Sprintf("bytes %d-%d/%d", start, end, size))
		c.Status(fiber.StatusPartialContent)
	}

	log.Printf("stream %s: %s bytes %d-%d (%d bytes)", id, filepath.Base(path), start, end, length)
	c.Response().SetBodyStream(&streamReader{f: f, remaining: length, total: length, label: id}, bodySize(length))
	return nil
}

// bodySize converts a byte count to fasthttp's int body size. A length that
// does not fit the platform int (over 2 GiB on 32-bit) falls back to -1,
// which streams chunked without a Content-Length instead of truncating.
func bodySize(length int64) int {
	n := int(length)
	if int64(n) != length {
		return -1
	}
	return n
}

var rangeRe = regexp.MustCompile(`^bytes=(\d*)-(\d*)$`)

// parseRange interprets a single-range header against a resource of the
// given size. Either bound may be absent: "bytes=100-" means from 100 to
// the end, "bytes=-100" means the final 100 bytes. The end is clipped to
// the last byte; a start beyond the resource is unsatisfiable.
func parseRange(header string, size int64) (start, end int64, err error) {
	m := rangeRe.FindStringSubmatch(strings.TrimSpace(header))
	if m == nil || (m[1] == "" && m[2] == "") {
		return 0, 0, fmt.Errorf("malformed range %q", header)
	}
	if size <= 0 {
		return 0, 0, fmt.Errorf("empty resource")
	}

	if m[1] == "" {
		// Suffix form: the last N bytes.
		n, perr := strconv.ParseInt(m[2], 10, 64)
		if perr != nil || n <= 0 {
			return 0, 0, fmt.Errorf("malformed range %q", header)
		}
		if n > size {
			n = size
		}
		return size - n, size - 1, nil
	}

	start, err = strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed range %q", header)
	}
	if m[2] == "" {
		end = size - 1
	} else {
		end, err = strconv.ParseInt(m[2], 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("malformed range %q", header)
		}
	}
	if end > size-1 {
		end = size - 1
	}
	if start > end || start >= size {
		return 0, 0, fmt.Errorf("range %q out of bounds for %d bytes", header, size)
	}
	return start, end, nil
}

// streamReader hands the response body to fasthttp in bounded chunks and
// logs coarse progress. A client dropping the connection just stops the
// reads; Close runs either way.
type streamReader struct {
	f         *os.File
	remaining int64
	total     int64
	sent      int64
	lastPct   int64
	label     string
}

func (r *streamReader) Read(p []byte) (int, error) {
	if r.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > r.remaining {
		p = p[:r.remaining]
	}
	if len(p) > streamChunkSize {
		p = p[:streamChunkSize]
	}

	n, err := r.f.Read(p)
	r.remaining -= int64(n)
	r.sent += int64(n)

	if r.total > 0 {
		pct := r.sent * 100 / r.total
		if pct >= r.lastPct+10 {
			r.lastPct = pct - pct%10
			log.Printf("stream %s: %d%%", r.label, r.lastPct)
		}
	}
	return n, err
}

func (r *streamReader) Close() error {
	return r.f.Close()
}
