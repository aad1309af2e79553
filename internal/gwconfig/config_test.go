package gwconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDecodesControllers(t *testing.T) {
	doc := `{
		"debug": true,
		"poll_interval_ms": 500,
		"controllers": [
			{
				"controller_id": 5,
				"sensors": [{"channel": "ctrl5/roomTemperature", "sensor_index": 1}],
				"outputs": [{"channel": "ctrl5/heatingRelay", "output_index": 0}],
				"parameters": [{"channel": "ctrl5/setpoint", "program_type": 5, "parameter_id": 1, "parameter_index": 0, "value_timeout_min": -1}]
			}
		]
	}`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Debug || cfg.PollIntervalMs != 500 {
		t.Fatalf("top-level fields not decoded: %+v", cfg)
	}
	if len(cfg.Controllers) != 1 || cfg.Controllers[0].ControllerID != 5 {
		t.Fatalf("controllers not decoded: %+v", cfg.Controllers)
	}
	c := cfg.Controllers[0]
	if len(c.Sensors) != 1 || c.Sensors[0].SensorIndex != 1 {
		t.Fatalf("sensors not decoded: %+v", c.Sensors)
	}
	if !ValueTimeoutDisabled(c.Parameters[0].ValueTimeoutMin) {
		t.Fatal("negative value_timeout_min should report disabled")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected decode error")
	}
}
