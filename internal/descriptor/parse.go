package descriptor

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/minio/minio-go/v7/pkg/s3utils"

	"github.com/koustreak/filehop/internal/errs"
)

// Parser turns connection strings into Descriptors. The endpoint table is
// injected so the parser holds no hidden global state.
type Parser struct {
	Endpoints EndpointTable
}

// DefaultParser uses the built-in AWS region endpoint table.
var DefaultParser = &Parser{Endpoints: DefaultEndpoints()}

// Parse parses conn with DefaultParser.
func Parse(conn string, extra map[string]string) (*Descriptor, error) {
	return DefaultParser.Parse(conn, extra)
}

var knownSchemes = map[string]Scheme{
	"file":  FileSystem,
	"ftp":   FTP,
	"ftps":  FTPS,
	"ftpes": FTPES,
	"sftp":  SFTP,
	"http":  HTTP,
	"https": HTTP,
	"s3":    ObjectStore,
}

// Parse parses conn and merges extra into the option map. Parsing is pure:
// the same input always yields an equivalent descriptor.
func (p *Parser) Parse(conn string, extra map[string]string) (*Descriptor, error) {
	raw := strings.TrimSpace(conn)
	if raw == "" {
		return nil, errs.Parse("empty connection string")
	}
	s := strings.ReplaceAll(raw, `\`, "/")

	d := &Descriptor{
		Raw:                    raw,
		Scheme:                 FileSystem,
		RetryCount:             DefaultRetryCount,
		RetryWait:              DefaultRetryWait,
		SearchTopDirectoryOnly: true,
		Options:                make(map[string]string),
	}

	name, rest, ok := splitScheme(s)
	if ok {
		d.Scheme = knownSchemes[name]
	} else {
		rest = s
	}

	var err error
	switch d.Scheme {
	case HTTP:
		err = parseHTTP(d, name, s)
	case FTP, FTPS, FTPES, SFTP:
		err = parseHosted(d, rest)
	case ObjectStore:
		err = p.parseObjectStore(d, rest)
	default:
		err = parseLocal(d, rest)
	}
	if err != nil {
		return nil, err
	}

	if err := d.MergeOptions(extra); err != nil {
		return nil, err
	}
	return d, nil
}

// splitScheme locates the first "://" or ":/" and returns the lower-cased
// scheme when it is one we know. Drive letters and unknown prefixes are not
// schemes.
func splitScheme(s string) (name, rest string, ok bool) {
	i := strings.Index(s, ":/")
	if i <= 0 {
		return "", s, false
	}
	name = strings.ToLower(s[:i])
	if _, known := knownSchemes[name]; !known {
		return "", s, false
	}
	if name == "file" {
		return name, "/" + strings.TrimLeft(s[i+1:], "/"), true
	}
	if strings.HasPrefix(s[i:], "://") {
		return name, s[i+3:], true
	}
	return name, s[i+2:], true
}

func parseHTTP(d *Descriptor, name, s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return errs.Parse("invalid url %q: %v", s, err)
	}
	if u.Host == "" {
		return errs.Parse("url %q has no host", s)
	}
	d.Secure = name == "https"
	d.Host = u.Hostname()
	if port := u.Port(); port != "" {
		d.Port, _ = strconv.Atoi(port)
	}
	if u.User != nil {
		d.Login = u.User.Username()
		d.Password, _ = u.User.Password()
		if i := strings.Index(s, "://"); i >= 0 {
			i += 3
			authority := s[i:]
			if end := strings.IndexAny(authority, "/?#"); end >= 0 {
				authority = authority[:end]
			}
			if at := strings.LastIndex(authority, "@"); at >= 0 {
				d.markSecret(i, authority[:at])
			}
		}
	}
	d.BasePath = s
	d.Path = s
	return nil
}

// parseHosted handles ftp, ftps, ftpes and sftp.
func parseHosted(d *Descriptor, rest string) error {
	slash := strings.Index(rest, "/")
	if slash < 0 {
		return errs.Parse("missing '/' after host in %s connection string", d.Scheme)
	}
	authority, path := rest[:slash], rest[slash+1:]

	if at := strings.LastIndex(authority, "@"); at >= 0 {
		d.Login, d.Password = splitCredentials(authority[:at])
		d.markSecret(len(d.Raw)-len(rest), authority[:at])
		authority = authority[at+1:]
	}

	d.Port = d.Scheme.DefaultPort()
	if host, port, err := net.SplitHostPort(authority); err == nil {
		n, convErr := strconv.Atoi(port)
		if convErr != nil || n <= 0 || n > 65535 {
			return errs.Parse("invalid port %q", port)
		}
		d.Host, d.Port = host, n
	} else {
		d.Host = authority
	}
	if d.Host == "" {
		return errs.Parse("missing host in %s connection string", d.Scheme)
	}

	return splitPath(d, path, false)
}

func (p *Parser) parseObjectStore(d *Descriptor, rest string) error {
	// Secret keys may contain '/', so credentials end at the first '@'
	// when a ':' precedes it. Bucket names never contain either.
	if at := strings.Index(rest, "@"); at >= 0 && strings.Contains(rest[:at], ":") {
		d.Login, d.Password = splitCredentials(rest[:at])
		d.markSecret(len(d.Raw)-len(rest), rest[:at])
		rest = rest[at+1:]
	}

	first, remainder, _ := strings.Cut(rest, "/")
	if region, ok := p.Endpoints.Resolve(first); ok {
		d.Host = first
		d.Region = region
		first, remainder, _ = strings.Cut(remainder, "/")
	}
	if first == "" {
		return errs.Parse("s3 connection string is missing a bucket")
	}
	if err := s3utils.CheckValidBucketName(first); err != nil {
		return errs.Parse("invalid bucket %q: %v", first, err)
	}
	d.Bucket = first

	return splitPath(d, remainder, true)
}

func parseLocal(d *Descriptor, rest string) error {
	if err := splitPath(d, rest, false); err != nil {
		return err
	}
	if d.BasePath == "" {
		d.BasePath = "./"
	}
	return nil
}

// splitPath separates the directory part from the (possibly wildcarded)
// final segment. For object stores the pattern covers the whole key since
// there are no real directories.
func splitPath(d *Descriptor, path string, wholeKey bool) error {
	wi := strings.IndexAny(path, "*?")
	if wi < 0 {
		d.Path = path
		d.BasePath = path[:strings.LastIndex(path, "/")+1]
		if file := path[len(d.BasePath):]; file != "" {
			if wholeKey {
				d.SearchPattern = WildcardToRegex(path)
			} else {
				d.SearchPattern = WildcardToRegex(file)
			}
		}
		return nil
	}

	sep := strings.LastIndex(path[:wi], "/")
	segment := path[sep+1:]
	if strings.Contains(segment, "/") {
		return errs.Parse("wildcards are only allowed in the last path segment: %q", path)
	}
	d.BasePath = path[:sep+1]
	d.HasWildcardSearch = true
	if wholeKey {
		d.SearchPattern = WildcardToRegex(path)
	} else {
		d.SearchPattern = WildcardToRegex(segment)
	}
	return nil
}

func splitCredentials(s string) (login, password string) {
	login, password, _ = strings.Cut(s, ":")
	if v, err := url.PathUnescape(login); err == nil {
		login = v
	}
	if v, err := url.PathUnescape(password); err == nil {
		password = v
	}
	return login, password
}

func invalidOption(name, value string) error {
	return errs.Parse("invalid value %q for option %s", value, name)
}
