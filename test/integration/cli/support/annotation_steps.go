package support

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/pagefuse/internal/layout"
	"github.com/MeKo-Tech/pagefuse/internal/testutil"
	"github.com/cucumber/godog"
	"github.com/disintegration/imaging"
)

const coordTolerance = 1e-4

func (testCtx *TestContext) aFileContaining(name string, body *godog.DocString) error {
	return os.WriteFile(testCtx.tempPath(name), []byte(body.Content), 0o600)
}

func (testCtx *TestContext) theSamplePredictionBatchIn(name string) error {
	data, err := testutil.SampleBatch().JSON()
	if err != nil {
		return err
	}
	return os.WriteFile(testCtx.tempPath(name), data, 0o600)
}

func (testCtx *TestContext) aSyntheticPageImage(name string) error {
	return imaging.Save(testutil.GeneratePage(testutil.DefaultPageSpec()), testCtx.tempPath(name))
}

// outputSets decodes the last command output as a list of annotation sets.
func (testCtx *TestContext) outputSets() ([]layout.AnnotationSet, error) {
	return decodeSets([]byte(testCtx.LastOutput))
}

func decodeSets(data []byte) ([]layout.AnnotationSet, error) {
	var sets []layout.AnnotationSet
	if err := json.Unmarshal(data, &sets); err != nil {
		return nil, fmt.Errorf("failed to decode annotations: %w\n%s", err, data)
	}
	return sets, nil
}

func detectionsOf(sets []layout.AnnotationSet, image int, labelName string) ([]layout.Detection, error) {
	label, err := layout.ParseLabel(labelName)
	if err != nil {
		return nil, err
	}
	if image < 1 || image > len(sets) {
		return nil, fmt.Errorf("image %d out of range (have %d)", image, len(sets))
	}
	return sets[image-1].Get(label), nil
}

func parseRow(s string) ([]float64, error) {
	fields := strings.Split(s, ",")
	row := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", f, err)
		}
		row = append(row, v)
	}
	if len(row) != 5 {
		return nil, fmt.Errorf("expected [x1, y1, x2, y2, confidence], got %d values", len(row))
	}
	return row, nil
}

func checkCount(sets []layout.AnnotationSet, image, count int, labelName string) error {
	dets, err := detectionsOf(sets, image, labelName)
	if err != nil {
		return err
	}
	if len(dets) != count {
		return fmt.Errorf("image %d has %d %s detections, want %d", image, len(dets), labelName, count)
	}
	return nil
}

func checkDetection(sets []layout.AnnotationSet, labelName string, n, image int, want string) error {
	dets, err := detectionsOf(sets, image, labelName)
	if err != nil {
		return err
	}
	if n < 1 || n > len(dets) {
		return fmt.Errorf("image %d has %d %s detections, asked for #%d", image, len(dets), labelName, n)
	}
	expected, err := parseRow(want)
	if err != nil {
		return err
	}
	d := dets[n-1]
	got := []float64{d.Box.MinX, d.Box.MinY, d.Box.MaxX, d.Box.MaxY, d.Confidence}
	for i := range got {
		if math.Abs(got[i]-expected[i]) > coordTolerance {
			return fmt.Errorf("%s %d of image %d is %v, want %v", labelName, n, image, got, expected)
		}
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldHaveImages(n int) error {
	sets, err := testCtx.outputSets()
	if err != nil {
		return err
	}
	if len(sets) != n {
		return fmt.Errorf("output has %d images, want %d", len(sets), n)
	}
	return nil
}

func (testCtx *TestContext) imageShouldHaveDetections(image, count int, labelName string) error {
	sets, err := testCtx.outputSets()
	if err != nil {
		return err
	}
	return checkCount(sets, image, count, labelName)
}

func (testCtx *TestContext) detectionOfImageShouldBe(labelName string, n, image int, want string) error {
	sets, err := testCtx.outputSets()
	if err != nil {
		return err
	}
	return checkDetection(sets, labelName, n, image, want)
}

// RegisterAnnotationSteps registers fixture and annotation assertion steps.
func (testCtx *TestContext) RegisterAnnotationSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a file "([^"]*)" containing:$`, testCtx.aFileContaining)
	sc.Step(`^the sample prediction batch in "([^"]*)"$`, testCtx.theSamplePredictionBatchIn)
	sc.Step(`^a synthetic page image "([^"]*)"$`, testCtx.aSyntheticPageImage)
	sc.Step(`^the output should have (\d+) images?$`, testCtx.theOutputShouldHaveImages)
	sc.Step(`^image (\d+) should have (\d+) (table|chart|title) detections?$`, testCtx.imageShouldHaveDetections)
	sc.Step(`^(table|chart|title) (\d+) of image (\d+) should be \[([^\]]*)\]$`, testCtx.detectionOfImageShouldBe)
}
