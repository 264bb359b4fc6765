// vaultctl 管理加密凭证：生成主密钥、加解密预览、从 .env 批量导入到 badger。
package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"

	"github.com/betbot/unitrade/internal/credstore"
	"github.com/betbot/unitrade/internal/domain"
	"github.com/betbot/unitrade/internal/vault"
	"github.com/betbot/unitrade/pkg/secretstore"
)

const usage = `usage: vaultctl <command> [flags]

commands:
  genkey                 print a random 32-byte hex key
  encrypt | decrypt      read one line from stdin, write the result to stdout
  put                    store one credential (-account -exchange -api-key -api-secret [-passphrase])
  import                 import credentials from a .env file (-in)
  list                   list exchanges with a stored credential (-account)
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "genkey":
		err = genKey(os.Stdout)
	case "encrypt", "decrypt":
		err = preview(cmd, args, os.Stdin, os.Stdout)
	case "put":
		err = put(args)
	case "import":
		err = importEnv(args)
	case "list":
		err = list(args)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fatal(err)
	}
}

func genKey(w io.Writer) error {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w, hex.EncodeToString(b))
	return err
}

type storeFlags struct {
	masterKey *string
	dbPath    *string
	secretKey *string
}

func addStoreFlags(fs *flag.FlagSet) storeFlags {
	return storeFlags{
		masterKey: fs.String("master-key", getenv("UNITRADE_MASTER_KEY", ""), "vault master key (32 bytes base64/hex)"),
		dbPath:    fs.String("badger", getenv("UNITRADE_BADGER_PATH", "data/credentials"), "badger credential db path"),
		secretKey: fs.String("secret-key", getenv("UNITRADE_BADGER_KEY", ""), "badger encryption key (32 bytes base64/hex)"),
	}
}

func (f storeFlags) open() (*vault.Vault, *credstore.Store, func(), error) {
	v, err := vault.NewFromString(*f.masterKey)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("master key: %w (set UNITRADE_MASTER_KEY or pass -master-key)", err)
	}
	keyBytes, err := secretstore.ParseKey(*f.secretKey)
	if err != nil {
		return nil, nil, nil, err
	}
	ss, err := secretstore.Open(secretstore.OpenOptions{Path: *f.dbPath, EncryptionKey: keyBytes})
	if err != nil {
		return nil, nil, nil, err
	}
	return v, credstore.New(ss), func() { _ = ss.Close() }, nil
}

func preview(cmd string, args []string, in io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	masterKey := fs.String("master-key", getenv("UNITRADE_MASTER_KEY", ""), "vault master key (32 bytes base64/hex)")
	_ = fs.Parse(args)

	v, err := vault.NewFromString(*masterKey)
	if err != nil {
		return err
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return err
	}
	line = strings.TrimRight(line, "\r\n")

	var res string
	if cmd == "encrypt" {
		res, err = v.Encrypt(line)
	} else {
		res, err = v.Decrypt(line)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, res)
	return err
}

func put(args []string) error {
	fs := flag.NewFlagSet("put", flag.ExitOnError)
	sf := addStoreFlags(fs)
	account := fs.String("account", "", "account id")
	exName := fs.String("exchange", "", "exchange (binance|bitget|gateio|mexc|blofin)")
	apiKey := fs.String("api-key", "", "api key")
	apiSecret := fs.String("api-secret", "", "api secret")
	passphrase := fs.String("passphrase", "", "passphrase (bitget, blofin)")
	_ = fs.Parse(args)

	ex, ok := domain.ParseExchange(*exName)
	if !ok || *account == "" {
		return fmt.Errorf("-account and a known -exchange are required")
	}
	v, store, closeFn, err := sf.open()
	if err != nil {
		return err
	}
	defer closeFn()
	if err := seal(v, store, *account, ex, map[string]string{"API_KEY": *apiKey, "API_SECRET": *apiSecret, "PASSPHRASE": *passphrase}); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "已写入 %s/%s\n", *account, ex)
	return nil
}

// importEnv 从 .env 导入，key 格式：UNITRADE_CRED__<ACCOUNT>__<EXCHANGE>__<API_KEY|API_SECRET|PASSPHRASE>
func importEnv(args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	sf := addStoreFlags(fs)
	inPath := fs.String("in", ".env", "input .env file path")
	_ = fs.Parse(args)

	kv, err := godotenv.Read(*inPath)
	if err != nil {
		return err
	}
	groups, err := groupCredentials(kv)
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		return fmt.Errorf("%s 里没有 UNITRADE_CRED__ 开头的配置", *inPath)
	}

	v, store, closeFn, err := sf.open()
	if err != nil {
		return err
	}
	defer closeFn()

	keys := make([]credKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].account != keys[j].account {
			return keys[i].account < keys[j].account
		}
		return keys[i].exchange < keys[j].exchange
	})
	for _, k := range keys {
		if err := seal(v, store, k.account, k.exchange, groups[k]); err != nil {
			return fmt.Errorf("%s/%s: %w", k.account, k.exchange, err)
		}
	}
	fmt.Fprintf(os.Stderr, "已导入 %d 组凭证到 badger：%s\n", len(keys), *sf.dbPath)
	return nil
}

type credKey struct {
	account  string
	exchange domain.Exchange
}

const credPrefix = "UNITRADE_CRED__"

func groupCredentials(kv map[string]string) (map[credKey]map[string]string, error) {
	out := map[credKey]map[string]string{}
	for k, val := range kv {
		if !strings.HasPrefix(k, credPrefix) {
			continue
		}
		parts := strings.Split(strings.TrimPrefix(k, credPrefix), "__")
		if len(parts) != 3 {
			return nil, fmt.Errorf("bad key %s: want %s<ACCOUNT>__<EXCHANGE>__<FIELD>", k, credPrefix)
		}
		ex, ok := domain.ParseExchange(parts[1])
		if !ok {
			return nil, fmt.Errorf("bad key %s: unknown exchange %s", k, parts[1])
		}
		field := strings.ToUpper(parts[2])
		switch field {
		case "API_KEY", "API_SECRET", "PASSPHRASE":
		default:
			return nil, fmt.Errorf("bad key %s: unknown field %s", k, parts[2])
		}
		ck := credKey{account: strings.ToLower(parts[0]), exchange: ex}
		if out[ck] == nil {
			out[ck] = map[string]string{}
		}
		out[ck][field] = val
	}
	return out, nil
}

func seal(v *vault.Vault, store *credstore.Store, account string, ex domain.Exchange, fields map[string]string) error {
	cred := vault.Credential{
		APIKey:     []byte(fields["API_KEY"]),
		APISecret:  []byte(fields["API_SECRET"]),
		Passphrase: []byte(fields["PASSPHRASE"]),
	}
	defer cred.Wipe()
	if (ex == domain.ExchangeBitget || ex == domain.ExchangeBlofin) && len(cred.Passphrase) == 0 {
		return fmt.Errorf("%s requires a passphrase", ex)
	}
	enc, err := v.Seal(cred)
	if err != nil {
		return err
	}
	return store.Put(context.Background(), account, ex, enc)
}

func list(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	sf := addStoreFlags(fs)
	account := fs.String("account", "", "account id")
	_ = fs.Parse(args)
	if *account == "" {
		return fmt.Errorf("-account is required")
	}
	_, store, closeFn, err := sf.open()
	if err != nil {
		return err
	}
	defer closeFn()
	exs, err := store.Exchanges(context.Background(), *account)
	if err != nil {
		return err
	}
	for _, ex := range exs {
		fmt.Println(ex)
	}
	return nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err.Error())
	os.Exit(1)
}
