package storage

import "testing"

func TestDisabledStoreIsNil(t *testing.T) {
	store, err := NewS3Store(Config{Enabled: false})
	if err != nil || store != nil {
		t.Errorf("disabled store = (%v, %v), want (nil, nil)", store, err)
	}
}

func TestMissingCredentialsFail(t *testing.T) {
	if _, err := NewS3Store(Config{Enabled: true, Bucket: "b"}); err == nil {
		t.Error("missing credentials should fail")
	}
	if _, err := NewS3Store(Config{Enabled: true, AccessKey: "a", SecretKey: "s"}); err == nil {
		t.Error("missing bucket should fail")
	}
}

func TestKeyLayout(t *testing.T) {
	s := &S3Store{cfg: Config{Folder: "media"}}
	if got := s.Key("m1", ".jpg"); got != "media/m1.jpg" {
		t.Errorf("Key = %q", got)
	}
	if got := s.Key("m1", "jpg"); got != "media/m1.jpg" {
		t.Errorf("Key without dot = %q", got)
	}

	s = &S3Store{cfg: Config{Folder: "/uploads/"}}
	if got := s.Key("m2", ".ogg"); got != "uploads/m2.ogg" {
		t.Errorf("Key with slashes = %q", got)
	}

	s = &S3Store{cfg: Config{}}
	if got := s.Key("m3", ""); got != "media/m3" {
		t.Errorf("Key with defaults = %q", got)
	}
}

func TestPublicURLVariants(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		key  string
		want string
	}{
		{
			"aws virtual hosted",
			Config{Region: "us-east-1", Bucket: "zap-media"},
			"media/m1.jpg",
			"https://zap-media.s3.us-east-1.amazonaws.com/media/m1.jpg",
		},
		{
			"aws path style for dotted bucket",
			Config{Region: "us-east-1", Bucket: "cdn.example.com"},
			"media/m1.jpg",
			"https://s3.us-east-1.amazonaws.com/cdn.example.com/media/m1.jpg",
		},
		{
			"custom endpoint path style",
			Config{Endpoint: "https://minio.local:9000", Bucket: "zap", PathStyle: true},
			"media/m1.jpg",
			"https://minio.local:9000/zap/media/m1.jpg",
		},
		{
			"custom endpoint virtual hosted",
			Config{Endpoint: "https://r2.example.com", Bucket: "zap"},
			"media/m1.jpg",
			"https://zap.r2.example.com/media/m1.jpg",
		},
		{
			"explicit public url",
			Config{PublicURL: "https://cdn.zapdesk.io/", Bucket: "zap"},
			"media/m1.jpg",
			"https://cdn.zapdesk.io/zap/media/m1.jpg",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &S3Store{cfg: tt.cfg}
			if got := s.PublicURL(tt.key); got != tt.want {
				t.Errorf("PublicURL = %q, want %q", got, tt.want)
			}
		})
	}
}
