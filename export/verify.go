package export

import (
	"fmt"

	"github.com/disintegration/imaging"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// verifyPDF runs a relaxed structural validation of the file at path.
func verifyPDF(path string) error {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if err := api.ValidateFile(path, conf); err != nil {
		return fmt.Errorf("pdfcpu validate: %w", err)
	}
	return nil
}

// verifyImage decodes the raster at path and checks it is not degenerate.
func verifyImage(path string) error {
	img, err := imaging.Open(path)
	if err != nil {
		return fmt.Errorf("decode image: %w", err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return fmt.Errorf("decode image: empty bounds %v", b)
	}
	return nil
}

// verify checks payload according to the configured verifications.
func (c *Converter) verify(t Type, payload string) error {
	switch {
	case t == TypePDF && c.cfg.VerifyPDF:
		return verifyPDF(payload)
	case (t == TypePNG || t == TypeJPEG) && c.cfg.VerifyImages:
		return verifyImage(payload)
	}
	return nil
}
