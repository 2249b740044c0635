package descriptor

import (
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7/pkg/s3utils"
)

// EndpointTable maps S3 endpoint host names to their region. It is built once
// and never mutated afterwards.
type EndpointTable map[string]string

var awsRegions = []string{
	"us-east-1", "us-east-2", "us-west-1", "us-west-2",
	"ca-central-1", "ca-west-1", "sa-east-1", "mx-central-1",
	"eu-west-1", "eu-west-2", "eu-west-3", "eu-central-1", "eu-central-2",
	"eu-north-1", "eu-south-1", "eu-south-2",
	"ap-east-1", "ap-south-1", "ap-south-2", "ap-northeast-1", "ap-northeast-2",
	"ap-northeast-3", "ap-southeast-1", "ap-southeast-2", "ap-southeast-3",
	"ap-southeast-4", "ap-southeast-5", "ap-southeast-7",
	"me-south-1", "me-central-1", "il-central-1", "af-south-1",
	"cn-north-1", "cn-northwest-1", "us-gov-west-1", "us-gov-east-1",
}

// DefaultEndpoints returns the table of public AWS S3 endpoints.
func DefaultEndpoints() EndpointTable {
	t := EndpointTable{
		"s3.amazonaws.com":            "us-east-1",
		"s3-external-1.amazonaws.com": "us-east-1",
	}
	for _, r := range awsRegions {
		suffix := ".amazonaws.com"
		if strings.HasPrefix(r, "cn-") {
			suffix = ".amazonaws.com.cn"
		}
		t["s3."+r+suffix] = r
		t["s3-"+r+suffix] = r
		t["s3.dualstack."+r+suffix] = r
	}
	return t
}

// Resolve returns the region for host when host is an S3 endpoint. Hosts
// missing from the table are still recognised when they look like an Amazon
// endpoint.
func (t EndpointTable) Resolve(host string) (string, bool) {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return "", false
	}
	if region, ok := t[host]; ok {
		return region, true
	}
	u := url.URL{Scheme: "https", Host: host}
	if !s3utils.IsAmazonEndpoint(u) {
		return "", false
	}
	region := s3utils.GetRegionFromURL(u)
	if region == "" {
		region = "us-east-1"
	}
	return region, true
}
