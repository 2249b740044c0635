package postgres

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/koustreak/filehop/internal/errs"
	"github.com/koustreak/filehop/internal/warehouse"
)

// tableIdent returns the quoted, optionally schema-qualified table name.
func tableIdent(req *warehouse.Request) string {
	if req.Schema == "" {
		return pgx.Identifier{req.Table}.Sanitize()
	}
	return pgx.Identifier{req.Schema, req.Table}.Sanitize()
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// objectURL returns the s3:// URL of the object named by req.
func objectURL(req *warehouse.Request) string {
	d := req.Source
	return "s3://" + d.Bucket + "/" + strings.TrimLeft(d.Join(req.Key), "/")
}

// copyFromObjectSQL builds a Redshift COPY that reads the object server-side.
// Static credentials from the descriptor win over the IAM role.
func copyFromObjectSQL(req *warehouse.Request, iamRole string) (string, error) {
	d := req.Source

	var b strings.Builder
	fmt.Fprintf(&b, "COPY %s FROM %s", tableIdent(req), quoteLiteral(objectURL(req)))

	switch {
	case d.Login != "" && d.Password != "":
		creds := "aws_access_key_id=" + d.Login + ";aws_secret_access_key=" + d.Password
		fmt.Fprintf(&b, " CREDENTIALS %s", quoteLiteral(creds))
	case iamRole != "":
		fmt.Fprintf(&b, " IAM_ROLE %s", quoteLiteral(iamRole))
	default:
		return "", errs.New(errs.ErrKindInvalidInput, "server-side load needs credentials or an IAM role")
	}

	if d.Region != "" {
		fmt.Fprintf(&b, " REGION %s", quoteLiteral(d.Region))
	}

	switch req.Format {
	case warehouse.FormatJSON:
		b.WriteString(" FORMAT AS JSON 'auto'")
	default:
		fmt.Fprintf(&b, " FORMAT AS CSV DELIMITER %s", quoteLiteral(req.CSVDelimiter()))
		if req.IgnoreHeader > 0 {
			fmt.Fprintf(&b, " IGNOREHEADER %d", req.IgnoreHeader)
		}
	}
	return b.String(), nil
}

// copyFromStdinSQL builds a Postgres COPY that reads the request body.
func copyFromStdinSQL(req *warehouse.Request) (string, error) {
	if req.Format == warehouse.FormatJSON {
		return "", errs.New(errs.ErrKindUnsupported, "postgres cannot stream JSON through COPY FROM STDIN")
	}
	if req.IgnoreHeader > 1 {
		return "", errs.Newf(errs.ErrKindUnsupported, "COPY FROM STDIN skips at most one header line, got %d", req.IgnoreHeader)
	}
	delim := req.CSVDelimiter()
	if len(delim) != 1 {
		return "", errs.Newf(errs.ErrKindInvalidInput, "delimiter %q must be a single byte", delim)
	}

	stmt := fmt.Sprintf("COPY %s FROM STDIN WITH (FORMAT csv, DELIMITER %s", tableIdent(req), quoteLiteral(delim))
	if req.IgnoreHeader == 1 {
		stmt += ", HEADER true"
	}
	return stmt + ")", nil
}

// redact masks static credentials in a COPY statement before it is logged.
// The literal ends at the first quote that is not doubled.
func redact(stmt string) string {
	const marker = " CREDENTIALS '"
	i := strings.Index(stmt, marker)
	if i < 0 {
		return stmt
	}
	masked := stmt[:i] + " CREDENTIALS '****'"
	rest := stmt[i+len(marker):]
	for j := 0; j < len(rest); j++ {
		if rest[j] != '\'' {
			continue
		}
		if j+1 < len(rest) && rest[j+1] == '\'' {
			j++
			continue
		}
		return masked + rest[j+1:]
	}
	return masked
}
