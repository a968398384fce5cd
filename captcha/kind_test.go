package captcha

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		html string
		url  string
		want Kind
	}{
		{
			name: "recaptcha checkbox",
			html: `<div class="g-recaptcha" data-sitekey="6LdAbc"></div>`,
			url:  "https://example.com/item/1",
			want: KindRecaptchaCheckbox,
		},
		{
			name: "recaptcha invisible by size attr",
			html: `<div class="g-recaptcha" data-size="invisible" data-sitekey="6LdAbc"></div>`,
			url:  "https://example.com/item/1",
			want: KindRecaptchaInvisible,
		},
		{
			name: "recaptcha invisible by execute call",
			html: `<script>grecaptcha.execute('6LdAbc', {action: 'view'})</script>`,
			url:  "https://example.com/item/1",
			want: KindRecaptchaInvisible,
		},
		{
			name: "hcaptcha",
			html: `<div class="h-captcha" data-sitekey="10000000-ffff"></div>`,
			url:  "https://example.com/item/1",
			want: KindHcaptcha,
		},
		{
			name: "image captcha",
			html: `<img class="captcha__image" src="/captcha/18231.png"><input name="rep">`,
			url:  "https://example.com/item/1",
			want: KindImage,
		},
		{
			name: "image captcha by src path only",
			html: `<img id="challenge" src="/img/captcha_42.png"><input name="rep">`,
			url:  "https://example.com/item/1",
			want: KindImage,
		},
		{
			name: "gateway redirect without widget",
			html: `<html><body>loading...</body></html>`,
			url:  "https://example.com/showcaptcha?retpath=https%3A%2F%2Fexample.com",
			want: KindRedirect,
		},
		{
			name: "plain page",
			html: `<html><body><h1>BMW 530d</h1></body></html>`,
			url:  "https://example.com/item/1",
			want: KindNone,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.html, tc.url); got != tc.want {
				t.Fatalf("Classify() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestSiteKey(t *testing.T) {
	cases := []struct {
		name string
		html string
		want string
	}{
		{
			name: "data attribute double quotes",
			html: `<div class="g-recaptcha" data-sitekey="6LdAbcDEFghi_jkl-MNO"></div>`,
			want: "6LdAbcDEFghi_jkl-MNO",
		},
		{
			name: "data attribute single quotes",
			html: `<div class='h-captcha' data-sitekey='10000000-ffff-ffff'></div>`,
			want: "10000000-ffff-ffff",
		},
		{
			name: "iframe query parameter",
			html: `<iframe src="https://www.google.com/recaptcha/api2/anchor?ar=1&k=6LdQueryKey&co=x"></iframe>`,
			want: "6LdQueryKey",
		},
		{
			name: "no key",
			html: `<html><body>nothing here</body></html>`,
			want: "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SiteKey(tc.html); got != tc.want {
				t.Fatalf("SiteKey() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestKindAutomatable(t *testing.T) {
	if KindRedirect.Automatable() {
		t.Fatal("redirect gateways have no token to inject, must not be automatable")
	}
	if KindNone.Automatable() {
		t.Fatal("absent captcha must not be automatable")
	}
	for _, k := range []Kind{KindRecaptchaCheckbox, KindRecaptchaInvisible, KindHcaptcha, KindImage} {
		if !k.Automatable() {
			t.Fatalf("%q should be automatable", k)
		}
	}
}
