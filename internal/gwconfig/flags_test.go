package gwconfig

import "testing"

func TestParseDefaults(t *testing.T) {
	f, err := Parse([]string{"-c", "cfg.json"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.Interface != "can0" || f.BrokerPort != 1883 || f.BrokerHost != "localhost" {
		t.Fatalf("unexpected defaults: %+v", f)
	}
}

func TestParseOverrides(t *testing.T) {
	f, err := Parse([]string{
		"-c", "cfg.json", "-i", "can1", "-p", "18830",
		"-H", "broker.local", "-u", "bob", "-P", "secret", "-T", "sw", "-d", "2",
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.Interface != "can1" || f.BrokerPort != 18830 || f.BrokerHost != "broker.local" {
		t.Fatalf("unexpected overrides: %+v", f)
	}
	if f.Username != "bob" || f.Password != "secret" || f.TopicPrefix != "sw" || f.DebugLevel != 2 {
		t.Fatalf("unexpected overrides: %+v", f)
	}
}

func TestParseRequiresConfigPath(t *testing.T) {
	if _, err := Parse([]string{}); err == nil {
		t.Fatal("expected error when -c is missing")
	}
}

func TestParseRejectsOutOfRangeDebugLevel(t *testing.T) {
	if _, err := Parse([]string{"-c", "cfg.json", "-d", "5"}); err == nil {
		t.Fatal("expected error for debug level out of range")
	}
}
