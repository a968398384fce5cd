package browser

import "testing"

func facts(markers map[string]bool, bodyText string, bodyLen int, url string) *PageFacts {
	return &PageFacts{
		URL:     url,
		BodyLen: bodyLen,
		// mirror Inspect, which lowercases the sample
		BodyText: bodyText,
		Markers:  markers,
	}
}

func TestDecideContentWins(t *testing.T) {
	d := NewDetector(nil)
	f := facts(map[string]bool{
		MarkerTitle: true,
		MarkerPrice: true,
	}, "access denied somewhere in the footer", 9000, "https://example.com/item/1")

	v := d.Decide(f)
	if v.Blocked {
		t.Fatalf("page with title+price should not be blocked, got %+v", v)
	}
}

func TestDecideCaptchaByMarker(t *testing.T) {
	d := NewDetector(nil)
	f := facts(map[string]bool{MarkerCaptchaBox: true}, "", 200, "https://example.com/item/1")

	v := d.Decide(f)
	if !v.Blocked || !v.Captcha {
		t.Fatalf("captcha marker should yield blocked+captcha, got %+v", v)
	}
}

func TestDecideCaptchaByURL(t *testing.T) {
	d := NewDetector(nil)
	f := facts(map[string]bool{}, "", 300, "https://example.com/showcaptcha?retpath=x")

	v := d.Decide(f)
	if !v.Captcha {
		t.Fatalf("captcha redirect URL should be classified as captcha, got %+v", v)
	}
}

func TestDecideCaptchaByBodyPhrase(t *testing.T) {
	d := NewDetector(nil)
	f := facts(map[string]bool{MarkerMain: true},
		"пожалуйста, подтвердите, что вы не робот", 800, "https://example.com/item/1")

	v := d.Decide(f)
	if !v.Captcha {
		t.Fatalf("robot phrase should be classified as captcha, got %+v", v)
	}
}

func TestDecideTerminalStatesAreContent(t *testing.T) {
	d := NewDetector(nil)
	for _, marker := range []string{MarkerNotFound, MarkerSoldBadge} {
		f := facts(map[string]bool{marker: true}, "", 600, "https://example.com/item/1")
		if v := d.Decide(f); v.Blocked {
			t.Fatalf("marker %s is terminal content, should not be blocked, got %+v", marker, v)
		}
	}
}

func TestDecideRequiresPositiveConfirmation(t *testing.T) {
	d := NewDetector(nil)

	// no negative signals, but nothing recognizable either
	f := facts(map[string]bool{}, "loading", 40, "https://example.com/item/1")
	if v := d.Decide(f); !v.Blocked {
		t.Fatal("page without any content evidence should read as blocked")
	}

	// the main container alone is positive confirmation
	f = facts(map[string]bool{MarkerMain: true}, "loading", 40, "https://example.com/item/1")
	if v := d.Decide(f); v.Blocked {
		t.Fatal("short page with main container should not be blocked")
	}

	// so is a substantial rendered body
	f = facts(map[string]bool{}, "long article text", 5000, "https://example.com/item/1")
	if v := d.Decide(f); v.Blocked {
		t.Fatal("substantial body should not be blocked without negative signals")
	}
}

func TestDecideBlockWall(t *testing.T) {
	d := NewDetector(nil)
	f := facts(map[string]bool{MarkerBlockWall: true}, "request unsuccessful", 1200, "https://example.com/item/1")

	v := d.Decide(f)
	if !v.Blocked || v.Captcha {
		t.Fatalf("block wall should be blocked without captcha, got %+v", v)
	}
}

func TestDecideNilFacts(t *testing.T) {
	d := NewDetector(nil)
	if v := d.Decide(nil); !v.Blocked {
		t.Fatal("nil facts must be treated as blocked")
	}
}
