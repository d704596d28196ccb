package rules

import (
	"sync"
	"testing"
	"time"

	"edr-agent/internal/bus"
	"edr-agent/internal/schema"
)

func TestMatchHashRule_OnlyProcessCreateCaseInsensitive(t *testing.T) {
	r := Rule{Name: "r", Enabled: true, Kind: KindHash, Patterns: []string{"DEADBEEF"}}

	hit := schema.NewEvent(schema.KindProcessCreate, 1, "a.exe", map[string]string{"file_hash": "deadbeef"})
	if !matchRule(r, hit) {
		t.Error("hash rule should match case-insensitively on ProcessCreate")
	}

	miss := schema.NewEvent(schema.KindFileCreate, 1, "a.exe", map[string]string{"file_hash": "deadbeef"})
	if matchRule(r, miss) {
		t.Error("hash rule must not apply outside ProcessCreate")
	}
}

func TestMatchPathRule_ProcessCreateAndFileEvents(t *testing.T) {
	r := Rule{Name: "r", Enabled: true, Kind: KindPath, Patterns: []string{`c:\windows\*`}}

	proc := schema.NewEvent(schema.KindProcessCreate, 1, "x", map[string]string{"image_path": `C:\Windows\System32\cmd.exe`})
	if !matchRule(r, proc) {
		t.Error("path rule should match ProcessCreate.image_path case-insensitively")
	}

	created := schema.NewEvent(schema.KindFileCreate, 1, "x", map[string]string{"file_path": `C:\Windows\Temp\x.dll`})
	if !matchRule(r, created) {
		t.Error("path rule should match FileCreate.file_path")
	}

	modified := schema.NewEvent(schema.KindFileModify, 1, "x", map[string]string{"file_path": `C:\Windows\Temp\x.dll`})
	if !matchRule(r, modified) {
		t.Error("path rule should match FileModify.file_path")
	}

	netEvt := schema.NewEvent(schema.KindNetworkConnect, 1, "x", map[string]string{"remote_address": `C:\Windows\x`})
	if matchRule(r, netEvt) {
		t.Error("path rule must not apply to NetworkConnect")
	}
}

func TestMatchNetworkRule_CaseSensitive(t *testing.T) {
	r := Rule{Name: "r", Enabled: true, Kind: KindNetwork, Patterns: []string{"EVIL.example.com"}}

	exact := schema.NewEvent(schema.KindNetworkConnect, 1, "x", map[string]string{"remote_address": "EVIL.example.com"})
	if !matchRule(r, exact) {
		t.Error("network rule should match exact case")
	}

	wrongCase := schema.NewEvent(schema.KindNetworkConnect, 1, "x", map[string]string{"remote_address": "evil.example.com"})
	if matchRule(r, wrongCase) {
		t.Error("network rule must be case-sensitive, unlike path/registry rules")
	}
}

func TestMatchRegistryRule_CaseInsensitive(t *testing.T) {
	r := Rule{Name: "r", Enabled: true, Kind: KindRegistry, Patterns: []string{`hkcu\software\*\run`}}

	evt := schema.NewEvent(schema.KindRegistryWrite, 1, "x", map[string]string{
		"key_path": `HKCU\Software\Microsoft\Run`,
	})
	if !matchRule(r, evt) {
		t.Error("registry rule should match case-insensitively")
	}
}

func TestEngine_PublishesRiskThresholdExceededWithOriginalPrefixedMetadata(t *testing.T) {
	b := bus.New(nil)
	e := NewEngine(b, nil)
	e.LoadRules([]Rule{
		{Name: "temp-exec", Enabled: true, Kind: KindPath, Patterns: []string{`*\temp\*`}, Points: 15, Action: ActionAlert},
	})

	b.Subscribe(schema.KindProcessCreate, e.OnEvent)

	var mu sync.Mutex
	var captured schema.Event
	done := make(chan struct{})
	b.Subscribe(schema.KindRiskThresholdExceeded, func(ev schema.Event) {
		mu.Lock()
		captured = ev
		mu.Unlock()
		close(done)
	})

	b.Publish(schema.NewEvent(schema.KindProcessCreate, 42, "a.exe", map[string]string{
		"image_path": `C:\Temp\a.exe`,
	}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("engine never published RiskThresholdExceeded on a matching event")
	}

	mu.Lock()
	defer mu.Unlock()
	if captured.Meta("rule_name") != "temp-exec" {
		t.Errorf("rule_name = %q, want temp-exec", captured.Meta("rule_name"))
	}
	if captured.Meta("rule_type") != "path" {
		t.Errorf("rule_type = %q, want path", captured.Meta("rule_type"))
	}
	if captured.Meta("risk_points") != "15" {
		t.Errorf("risk_points = %q, want 15", captured.Meta("risk_points"))
	}
	if captured.Meta("original_image_path") != `C:\Temp\a.exe` {
		t.Errorf("original_image_path = %q, want original event metadata carried through", captured.Meta("original_image_path"))
	}
}

func TestEngine_DisabledRuleNeverMatches(t *testing.T) {
	b := bus.New(nil)
	e := NewEngine(b, nil)
	e.LoadRules([]Rule{
		{Name: "off", Enabled: false, Kind: KindPath, Patterns: []string{"*"}, Points: 1},
	})

	fired := false
	b.Subscribe(schema.KindRiskThresholdExceeded, func(schema.Event) { fired = true })
	e.OnEvent(schema.NewEvent(schema.KindProcessCreate, 1, "x", map[string]string{"image_path": "x"}))

	if fired {
		t.Error("disabled rule must not produce a match")
	}
}
