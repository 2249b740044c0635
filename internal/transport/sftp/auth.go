package sftp

import (
	"net"
	"os"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/koustreak/filehop/internal/descriptor"
	"github.com/koustreak/filehop/internal/errs"
	"github.com/koustreak/filehop/internal/logger"
)

// clientConfig builds the SSH client configuration for d: password auth
// when a password is given, public key auth for every sshKeyFiles entry.
func clientConfig(d *descriptor.Descriptor, log *logger.Logger) (*ssh.ClientConfig, error) {
	var methods []ssh.AuthMethod
	if d.Password != "" {
		methods = append(methods, ssh.Password(d.Password))
	}

	signers, err := loadSigners(d.KeyFiles())
	if err != nil {
		return nil, err
	}
	if len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}
	if len(methods) == 0 {
		return nil, errs.New(errs.ErrKindInvalidInput, "sftp needs a password or sshKeyFiles")
	}

	hostKeys, err := hostKeyCallback(d, log)
	if err != nil {
		return nil, err
	}

	return &ssh.ClientConfig{
		User:            d.Login,
		Auth:            methods,
		HostKeyCallback: hostKeys,
		Timeout:         d.Timeout(),
	}, nil
}

func loadSigners(files []descriptor.KeyFile) ([]ssh.Signer, error) {
	signers := make([]ssh.Signer, 0, len(files))
	for _, kf := range files {
		pem, err := os.ReadFile(kf.Path)
		if err != nil {
			return nil, errs.Wrap(errs.ErrKindInvalidInput, "failed to read key file "+kf.Path, err)
		}
		var signer ssh.Signer
		if kf.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(kf.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(pem)
		}
		if err != nil {
			return nil, errs.Wrap(errs.ErrKindInvalidInput, "failed to parse key file "+kf.Path, err)
		}
		signers = append(signers, signer)
	}
	return signers, nil
}

// hostKeyCallback verifies against the knownHosts file when configured.
// Without one, any host key is accepted and its fingerprint logged.
func hostKeyCallback(d *descriptor.Descriptor, log *logger.Logger) (ssh.HostKeyCallback, error) {
	if path, ok := d.Option(descriptor.OptKnownHosts); ok {
		cb, err := knownhosts.New(path)
		if err != nil {
			return nil, errs.Wrap(errs.ErrKindInvalidInput, "failed to load known hosts", err)
		}
		return cb, nil
	}
	return func(hostname string, _ net.Addr, key ssh.PublicKey) error {
		log.With().
			Str("hostname", hostname).
			Str("fingerprint", ssh.FingerprintSHA256(key)).
			Logger().
			Warn("accepting unverified host key")
		return nil
	}, nil
}
