package busconfig

import "testing"

func TestParse_EmbeddedConfig(t *testing.T) {
	cfg, err := Parse([]byte(Embedded))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Type != "alljoyn_bundled" {
		t.Errorf("Type = %q, want alljoyn_bundled", cfg.Type)
	}
	if cfg.Listen != "tcp:r4addr=0.0.0.0,r4port=0" {
		t.Errorf("Listen = %q", cfg.Listen)
	}
	if len(cfg.Limits) != 4 {
		t.Fatalf("expected 4 <limit> elements, got %d", len(cfg.Limits))
	}
	if cfg.Limits[0].AuthTimeout != 5000 {
		t.Errorf("AuthTimeout = %d, want 5000", cfg.Limits[0].AuthTimeout)
	}
	if !cfg.IPNameService.EnableIPv4 || !cfg.IPNameService.EnableIPv6 {
		t.Error("expected both address families enabled in embedded config")
	}
	if cfg.IPNameService.Interfaces != "*" {
		t.Errorf("Interfaces = %q, want *", cfg.IPNameService.Interfaces)
	}
	if cfg.IPNameService.DisableDirectedBroadcast {
		t.Error("expected directed broadcast not disabled in embedded config")
	}
}

func TestParse_MalformedXml(t *testing.T) {
	_, err := Parse([]byte("<busconfig><type>unterminated"))
	if err == nil {
		t.Fatal("expected BusBadXmlError for malformed XML")
	}
}

func TestParseListen(t *testing.T) {
	spec, err := ParseListen("tcp:r4addr=0.0.0.0,r4port=9955")
	if err != nil {
		t.Fatalf("ParseListen() error = %v", err)
	}
	if spec.Transport != "tcp" {
		t.Errorf("Transport = %q, want tcp", spec.Transport)
	}
	if spec.Options["r4addr"] != "0.0.0.0" {
		t.Errorf("r4addr = %q, want 0.0.0.0", spec.Options["r4addr"])
	}
	if spec.Port("r4port") != 9955 {
		t.Errorf("Port(r4port) = %d, want 9955", spec.Port("r4port"))
	}
	if spec.Port("r6port") != 0 {
		t.Errorf("Port(r6port) = %d, want 0 for an absent option", spec.Port("r6port"))
	}

	if _, err := ParseListen("noprefix"); err == nil {
		t.Error("expected error for a listen spec with no transport prefix")
	}
	if _, err := ParseListen("tcp:badoption"); err == nil {
		t.Error("expected error for a listen option with no '='")
	}
}
