package phase

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"

	exif "github.com/dsoprea/go-exif/v3"
	"github.com/nao1215/arbiter/internal/config"
	"github.com/nao1215/arbiter/internal/model"
	"github.com/nao1215/arbiter/internal/pipeline"
	"github.com/nao1215/arbiter/internal/session"
)

// metadataMaxImages bounds the images downloaded per scan.
const metadataMaxImages = 50

// exifCategory groups EXIF tags that disclose the same kind of information.
type exifCategory struct {
	label    string
	severity model.Severity
	tags     []string
}

var exifCategories = []exifCategory{
	{"GPS Location", model.SeverityMedium, []string{"GPSLatitude", "GPSLongitude", "GPSLatitudeRef", "GPSLongitudeRef"}},
	{"Device Serial", model.SeverityMedium, []string{"SerialNumber", "CameraSerialNumber", "BodySerialNumber", "LensSerialNumber"}},
	{"Author", model.SeverityLow, []string{"Artist", "Author", "Copyright", "XPAuthor"}},
	{"Camera", model.SeverityLow, []string{"Make", "Model"}},
	{"Software", model.SeverityLow, []string{"Software", "ProcessingSoftware"}},
}

// MetadataPhase downloads crawled JPEG and TIFF images and reports the
// EXIF metadata they carry.
type MetadataPhase struct {
	deps *Deps
}

// NewMetadataPhase creates the image metadata phase.
func NewMetadataPhase(d *Deps) *MetadataPhase {
	return &MetadataPhase{deps: d}
}

// Name returns the phase name.
func (p *MetadataPhase) Name() string { return NameMetadata }

// Run executes the phase.
func (p *MetadataPhase) Run(ctx context.Context, sess *session.Session, cfg *config.Config) error {
	p.deps.banner("METADATA (EXIF)")

	var images []string
	for u := range sess.CrawledURLs.All(ctx) {
		if len(images) >= metadataMaxImages {
			break
		}
		if isEXIFImage(u) {
			images = append(images, u)
		}
	}
	if len(images) == 0 {
		p.deps.Logger.Info("no JPEG or TIFF images among crawled URLs")
		return nil
	}

	results := pipeline.Map(ctx, images, p.inspect, p.deps.probeOptions(cfg, "exif")...)
	for _, vulns := range results {
		for _, v := range vulns {
			p.deps.report(ctx, sess, v)
		}
	}
	return nil
}

// inspect fetches one image and returns a finding per disclosing category.
func (p *MetadataPhase) inspect(ctx context.Context, imageURL string) ([]model.Vulnerability, error) {
	resp, err := p.deps.HTTP.Get(ctx, imageURL)
	if err != nil || resp.StatusCode != http.StatusOK {
		return nil, nil
	}
	return exifFindings(resp.Body, imageURL), nil
}

// exifFindings extracts EXIF tags from image data.
func exifFindings(data []byte, imageURL string) []model.Vulnerability {
	raw, err := exif.SearchAndExtractExif(data)
	if err != nil || raw == nil {
		return nil
	}
	entries, _, err := exif.GetFlatExifData(raw, nil)
	if err != nil {
		return nil
	}

	values := make(map[string][]string)
	for _, entry := range entries {
		for _, cat := range exifCategories {
			if slices.Contains(cat.tags, entry.TagName) && strings.TrimSpace(entry.Formatted) != "" {
				values[cat.label] = append(values[cat.label], entry.TagName+"="+entry.Formatted)
			}
		}
	}

	var out []model.Vulnerability
	for _, cat := range exifCategories {
		v, ok := values[cat.label]
		if !ok {
			continue
		}
		out = append(out, model.Vulnerability{
			Name:     fmt.Sprintf("Image Metadata Exposure (%s)", cat.label),
			Severity: cat.severity,
			URL:      imageURL,
			Info:     strings.Join(v, "; "),
		})
	}
	return out
}

func isEXIFImage(u string) bool {
	path := strings.ToLower(urlPath(u))
	for _, ext := range []string{".jpg", ".jpeg", ".tif", ".tiff"} {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}
