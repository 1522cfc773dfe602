package services

import "testing"

func TestGetPublicURL(t *testing.T) {
	cases := []struct {
		name   string
		bucket string
		cdn    string
		key    string
		want   string
	}{
		{
			name:   "cdn domain preferred",
			bucket: "siteinsight-artifacts",
			cdn:    "cdn.siteinsight.io",
			key:    "reports/example.com/report.pdf",
			want:   "https://cdn.siteinsight.io/reports/example.com/report.pdf",
		},
		{
			name:   "falls back to storage host",
			bucket: "siteinsight-artifacts",
			key:    "reports/example.com/preview.png",
			want:   "https://storage.googleapis.com/siteinsight-artifacts/reports/example.com/preview.png",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			bs := &bucketService{bucketName: tc.bucket, cdnDomain: tc.cdn}
			if got := bs.GetPublicURL(tc.key); got != tc.want {
				t.Fatalf("GetPublicURL = %q, want %q", got, tc.want)
			}
		})
	}
}
