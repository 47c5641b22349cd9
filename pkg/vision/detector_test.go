package vision

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zoeyai/stampcheck/pkg/vision/cv"
)

func TestImageHashDetector(t *testing.T) {
	img, err := cv.ImageToMat(newBlockTexture(128, 128, 16, 4))
	require.NoError(t, err)
	defer img.Close()

	testCases := []struct {
		kind ImageHashKind
		name Method
	}{
		{PerceptionHash, MethodPHash},
		{DifferenceHash, MethodDHash},
	}

	for _, tc := range testCases {
		t.Run(string(tc.name), func(t *testing.T) {
			d := NewImageHashDetector(tc.kind)
			assert.Equal(t, tc.name, d.Name())

			sim, err := d.Compare(img, img)
			require.NoError(t, err)
			assert.Equal(t, 100.0, sim)
		})
	}
}

func TestFeatureDetector(t *testing.T) {
	img, err := cv.ImageToMat(newBlockTexture(300, 200, 12, 5))
	require.NoError(t, err)
	defer img.Close()

	d := NewFeatureDetector(cv.DefaultORBParams())
	assert.Equal(t, MethodFeature, d.Name())

	sim, err := d.Compare(img, img)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, sim, 90.0)
}

func TestDetectorByName(t *testing.T) {
	d, err := DetectorByName(" PHash ")
	require.NoError(t, err)
	assert.Equal(t, MethodPHash, d.Name())

	_, err = DetectorByName("sift")
	assert.True(t, errors.Is(err, ErrUnknownDetector))

	ds, err := DetectorsByName([]string{"phash", "", "dhash"})
	require.NoError(t, err)
	require.Len(t, ds, 2)
	assert.Equal(t, MethodDHash, ds[1].Name())

	_, err = DetectorsByName([]string{"phash", "bogus"})
	assert.Error(t, err)
}
