package upload

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	dErrors "mkcompany/pkg/domain-errors"
)

// DefaultMaxFileSize is the largest document accepted.
const DefaultMaxFileSize int64 = 10 << 20

const mimePDF = "application/pdf"

func init() {
	api.DisableConfigDir()
}

// File is an incoming upload as received from the client.
type File struct {
	Filename     string
	DeclaredType string
	Size         int64
	Body         io.Reader
}

// CheckedFile is a File that passed every content check and is held in memory.
type CheckedFile struct {
	Filename  string
	MimeType  string
	Extension string
	Data      []byte
}

// Checker applies the size and type rules to uploads before any I/O happens.
type Checker struct {
	maxSize int64
	pdfConf *model.Configuration
}

func NewChecker(maxSize int64) *Checker {
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &Checker{maxSize: maxSize, pdfConf: conf}
}

func (c *Checker) MaxSize() int64 {
	return c.maxSize
}

// Check accepts images and PDFs up to the size limit. The declared type must
// agree with the sniffed content, and PDFs must parse.
func (c *Checker) Check(f File) (*CheckedFile, error) {
	if f.Size > c.maxSize {
		return nil, fileError(fmt.Sprintf("file exceeds the %d MiB limit", c.maxSize>>20))
	}
	declared, _, err := mime.ParseMediaType(f.DeclaredType)
	if err != nil {
		return nil, fileError("file type is missing or malformed")
	}
	family := typeFamily(declared)
	if family == "" {
		return nil, fileError("only images and PDF documents are accepted")
	}
	if f.Body == nil {
		return nil, fileError("file is empty")
	}

	data, err := io.ReadAll(io.LimitReader(f.Body, c.maxSize+1))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "failed to read upload")
	}
	if int64(len(data)) > c.maxSize {
		return nil, fileError(fmt.Sprintf("file exceeds the %d MiB limit", c.maxSize>>20))
	}
	if len(data) == 0 {
		return nil, fileError("file is empty")
	}

	detected := mimetype.Detect(data)
	sniffed, _, _ := mime.ParseMediaType(detected.String())
	if typeFamily(sniffed) != family {
		return nil, fileError("file content does not match its declared type")
	}
	if family == mimePDF {
		if err := api.Validate(bytes.NewReader(data), c.pdfConf); err != nil {
			return nil, fileError("PDF document is malformed")
		}
	}

	ext := detected.Extension()
	if ext == "" {
		ext = strings.ToLower(filepath.Ext(f.Filename))
	}
	return &CheckedFile{
		Filename:  filepath.Base(f.Filename),
		MimeType:  sniffed,
		Extension: ext,
		Data:      data,
	}, nil
}

// typeFamily groups accepted media types: every image/* is one family, PDF another.
func typeFamily(mediaType string) string {
	switch {
	case strings.HasPrefix(mediaType, "image/"):
		return "image"
	case mediaType == mimePDF:
		return mimePDF
	default:
		return ""
	}
}

func fileError(msg string) error {
	return dErrors.WithFields(dErrors.CodeValidation, msg, map[string]string{"file": msg})
}
