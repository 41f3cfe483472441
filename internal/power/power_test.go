package power

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

// setupSysfsLine pre-creates base/gpioN so exportLine's os.Stat check
// short-circuits the export-then-poll dance a real sysfs driver would do.
func setupSysfsLine(t *testing.T, base string, line int) {
	t.Helper()
	dir := filepath.Join(base, "gpio"+strconv.Itoa(line))
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "direction"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "value"), nil, 0644))
}

func TestSysfsGPIODrivesPowerAndWakeLines(t *testing.T) {
	base := t.TempDir()
	setupSysfsLine(t, base, 4)
	setupSysfsLine(t, base, 7)

	g := &SysfsGPIO{BaseDir: base, PowerLine: 4, WakeLine: 7}

	require.NoError(t, g.PowerOn(context.Background()))
	assert.Equal(t, "out", readFile(t, filepath.Join(base, "gpio4", "direction")))
	assert.Equal(t, "out", readFile(t, filepath.Join(base, "gpio7", "direction")))
	assert.Equal(t, "1", readFile(t, filepath.Join(base, "gpio4", "value")))

	deassert := g.AssertWake()
	assert.Equal(t, "1", readFile(t, filepath.Join(base, "gpio7", "value")))
	deassert()
	assert.Equal(t, "0", readFile(t, filepath.Join(base, "gpio7", "value")))

	require.NoError(t, g.PowerOff(context.Background()))
	assert.Equal(t, "0", readFile(t, filepath.Join(base, "gpio4", "value")))
}

func TestSysfsGPIOWithoutWakeLineIsNoOp(t *testing.T) {
	base := t.TempDir()
	setupSysfsLine(t, base, 4)

	g := &SysfsGPIO{BaseDir: base, PowerLine: 4}
	require.NoError(t, g.PowerOn(context.Background()))

	deassert := g.AssertWake()
	deassert() // must not panic or touch any file
}

// fakeCdevLine is an in-memory stand-in for *gpiocdev.Line.
type fakeCdevLine struct {
	values []int
	closed bool
}

func (f *fakeCdevLine) SetValue(v int) error {
	f.values = append(f.values, v)
	return nil
}

func (f *fakeCdevLine) Close() error {
	f.closed = true
	return nil
}

func TestCdevGPIODrivesPowerAndWakeLines(t *testing.T) {
	power := &fakeCdevLine{}
	wake := &fakeCdevLine{}
	requested := map[int]string{}

	g := &CdevGPIO{
		Chip: "/dev/gpiochip0", PowerLine: 2, WakeLine: 3,
		requestLine: func(chip string, offset int, consumer string) (gpioLine, error) {
			requested[offset] = consumer
			if offset == 2 {
				return power, nil
			}
			return wake, nil
		},
	}

	require.NoError(t, g.PowerOn(context.Background()))
	assert.Equal(t, []int{1}, power.values)
	assert.Equal(t, "gsm0710muxd", requested[2])

	deassert := g.AssertWake()
	assert.Equal(t, []int{1}, wake.values)
	deassert()
	assert.Equal(t, []int{1, 0}, wake.values)

	require.NoError(t, g.PowerOff(context.Background()))
	assert.Equal(t, []int{1, 0}, power.values)
	assert.True(t, power.closed)
}

func TestCdevGPIOPowerOffWithoutPowerOnIsNoOp(t *testing.T) {
	g := &CdevGPIO{Chip: "/dev/gpiochip0", PowerLine: 2}
	assert.NoError(t, g.PowerOff(context.Background()))
}
