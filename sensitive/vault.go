package sensitive

import (
	vault "github.com/hashicorp/vault/api"

	"github.com/HandsomeChen0407/cjdb/configuration"
	"github.com/HandsomeChen0407/cjdb/errors"
	"github.com/HandsomeChen0407/cjdb/log"
	"github.com/HandsomeChen0407/cjdb/securememory"
)

// KeyMasterSecret names the secure memory entry holding the column
// encryption secret.
const KeyMasterSecret = "sensitive_aes_key"

// CJVaultKeySource pulls the column encryption secret out of Vault so it
// never sits in a config file.
type CJVaultKeySource struct {
	Address string
	Token   string
	Path    string
	Client  *vault.Client
}

func (v *CJVaultKeySource) Setup() error {
	config := vault.DefaultConfig()
	config.Address = v.Address
	client, err := vault.NewClient(config)
	if err != nil {
		return errors.Wrap(err, "VAULT_CLIENT_INIT_FAILED")
	}
	client.SetToken(v.Token)
	v.Client = client
	return nil
}

// FetchKey reads the named field at the configured path. Both KV v1 and
// the nested KV v2 layout are handled.
func (v *CJVaultKeySource) FetchKey(field string) (string, error) {
	secret, err := v.Client.Logical().Read(v.Path)
	if err != nil {
		return "", errors.Wrapf(err, "VAULT_READ_FAILED:%s", v.Path)
	}
	if secret == nil || secret.Data == nil {
		return "", errors.Errorf("VAULT_SECRET_NOT_FOUND:%s", v.Path)
	}
	data := secret.Data
	if inner, ok := data["data"].(map[string]any); ok {
		data = inner
	}
	key, ok := data[field].(string)
	if !ok || key == "" {
		return "", errors.Errorf("VAULT_SECRET_FIELD_MISSING:%s:%s", v.Path, field)
	}
	return key, nil
}

// ResolveFieldCipher builds the cipher from the loaded configuration,
// preferring a direct key and falling back to Vault. The resolved secret
// is parked in secure memory and only opened to derive the cipher.
func ResolveFieldCipher() (*CJFieldCipher, error) {
	o := configuration.Manager.Options.Sensitive
	key := o.AesKey
	if key == "" {
		if o.VaultAddress == "" {
			return nil, errors.New("SENSITIVE_KEY_NOT_CONFIGURED")
		}
		source := &CJVaultKeySource{
			Address: o.VaultAddress,
			Token:   o.VaultToken,
			Path:    o.VaultPath,
		}
		err := source.Setup()
		if err != nil {
			return nil, err
		}
		field := o.VaultKeyField
		if field == "" {
			field = "aes_key"
		}
		key, err = source.FetchKey(field)
		if err != nil {
			return nil, err
		}
		log.Log.Infof("Sensitive column key loaded from vault path %s", o.VaultPath)
	}
	entry := securememory.Manager.Store(KeyMasterSecret, []byte(key))
	var cipher *CJFieldCipher
	err := entry.Use(func(data []byte) error {
		var buildErr error
		cipher, buildErr = NewFieldCipher(string(data))
		return buildErr
	})
	if err != nil {
		return nil, err
	}
	return cipher, nil
}
