// Package document turns an assembled prescription view into a shareable
// HTML document and delivers it by mail.
package document

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/jwalitptl/rx-api/internal/model"
	apperrors "github.com/jwalitptl/rx-api/pkg/errors"
	"github.com/jwalitptl/rx-api/pkg/metrics"
)

//go:embed templates/*.tmpl
var templates embed.FS

var prescriptionTmpl = template.Must(template.ParseFS(templates, "templates/prescription.html.tmpl"))

const (
	ContentTypeHTML = "text/html; charset=utf-8"
	NotAvailable    = "N/A"

	// en-US short date and date-time, as the browser locale renders them
	dateLayout     = "1/2/2006"
	dateTimeLayout = "1/2/2006, 3:04:05 PM"
)

type Document struct {
	Filename    string
	ContentType string
	Body        []byte
}

// Filename is prescription-<first 8 chars of id>.html.
func Filename(view *model.PrescriptionView) string {
	id := view.ID.String()
	return "prescription-" + id[:8] + ".html"
}

// Renderer is pure: given the same view and clock it produces the same
// bytes, and it never does network I/O.
type Renderer struct {
	brand   string
	tagline string
	now     func() time.Time
	loc     *time.Location
	metrics *metrics.Metrics
}

type Option func(*Renderer)

func WithClock(now func() time.Time) Option {
	return func(r *Renderer) { r.now = now }
}

// WithLocation sets the zone dates are shown in. Defaults to UTC.
func WithLocation(loc *time.Location) Option {
	return func(r *Renderer) { r.loc = loc }
}

func WithBranding(brand, tagline string) Option {
	return func(r *Renderer) {
		if brand != "" {
			r.brand = brand
		}
		r.tagline = tagline
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Renderer) { r.metrics = m }
}

func NewRenderer(opts ...Option) *Renderer {
	r := &Renderer{
		brand: "PRESCRIPTION",
		now:   time.Now,
		loc:   time.UTC,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type page struct {
	Brand          string
	Tagline        string
	PatientName    string
	PatientDOB     string
	DoctorName     string
	Specialization string
	License        string
	DateIssued     string
	ID             string
	ShortID        string
	Diagnosis      string
	Medications    []model.Medication
	Notes          string
	GeneratedAt    string
}

// Render builds the document for view. Every failure is a RenderingFailure.
func (r *Renderer) Render(view *model.PrescriptionView) (*Document, error) {
	var buf bytes.Buffer
	if err := r.RenderTo(&buf, view); err != nil {
		return nil, err
	}
	return &Document{
		Filename:    Filename(view),
		ContentType: ContentTypeHTML,
		Body:        buf.Bytes(),
	}, nil
}

// RenderTo writes the document to w. A failing writer is a RenderingFailure.
func (r *Renderer) RenderTo(w io.Writer, view *model.PrescriptionView) error {
	err := r.render(w, view)
	r.metrics.ObserveRender(err)
	return err
}

func (r *Renderer) render(w io.Writer, view *model.PrescriptionView) error {
	if view == nil {
		return apperrors.NewRendering(errors.New("no prescription to render"))
	}
	if w == nil {
		return apperrors.NewRendering(errors.New("output unavailable"))
	}

	// work on a copy; the caller's view is never touched
	p, err := r.page(view.Clone())
	if err != nil {
		return apperrors.NewRendering(err)
	}
	if err := prescriptionTmpl.Execute(w, p); err != nil {
		return apperrors.NewRendering(err)
	}
	return nil
}

func (r *Renderer) page(v *model.PrescriptionView) (*page, error) {
	issued := v.DateIssued
	if issued == "" {
		issued = v.CreatedAt
	}
	dateIssued, err := r.localDate(issued)
	if err != nil {
		return nil, fmt.Errorf("invalid date_issued %q: %w", issued, err)
	}

	p := &page{
		Brand:          r.brand,
		Tagline:        r.tagline,
		PatientName:    NotAvailable,
		PatientDOB:     NotAvailable,
		DoctorName:     NotAvailable,
		Specialization: NotAvailable,
		License:        NotAvailable,
		DateIssued:     dateIssued,
		ID:             v.ID.String(),
		ShortID:        v.ID.String()[:8],
		Diagnosis:      v.Diagnosis,
		Medications:    v.Medications,
		GeneratedAt:    r.now().In(r.loc).Format(dateTimeLayout),
	}

	if v.Patient != nil {
		p.PatientName = orNA(v.Patient.Profile.FullName)
		if v.Patient.DateOfBirth != nil {
			p.PatientDOB = orNA(*v.Patient.DateOfBirth)
		}
	}
	if v.Doctor != nil {
		p.DoctorName = orNA(v.Doctor.Profile.FullName)
		p.Specialization = orNA(v.Doctor.Specialization)
		if v.Doctor.LicenseNumber != nil {
			p.License = orNA(*v.Doctor.LicenseNumber)
		}
	}
	if v.Notes != nil && *v.Notes != "" {
		p.Notes = *v.Notes
	}
	return p, nil
}

func (r *Renderer) localDate(iso string) (string, error) {
	t, err := time.Parse(time.RFC3339Nano, iso)
	if err != nil {
		return "", err
	}
	return t.In(r.loc).Format(dateLayout), nil
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return NotAvailable
	}
	return s
}
