package model

import (
	"encoding/gob"
	"io"
	"os"
	"path/filepath"

	"github.com/YuminosukeSato/strokeguard/pkg/errors"
)

// SaveModel はモデルをファイルに保存する
//
// 同じディレクトリの一時ファイルに書き込んでから rename するため、
// 読み込み側が書きかけのファイルを見ることはない。
// 親ディレクトリが無ければ作成する。
//
// 使用例:
//
//	bundle := predictor.Bundle{...}
//	err := model.SaveModel(&bundle, "app/model/stroke_model.gob")
func SaveModel(model interface{}, filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create model directory %s", dir)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(filename)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "failed to create file")
	}
	tmpName := tmp.Name()
	defer func() {
		// rename 済みなら何もしない
		_ = os.Remove(tmpName)
	}()

	if err := encodeModel(model, tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to close file")
	}
	if err := os.Rename(tmpName, filename); err != nil {
		return errors.Wrap(err, "failed to replace model file")
	}
	return nil
}

// LoadModel はファイルからモデルを読み込む
//
// ファイルが存在しない場合は ErrModelFileNotFound をラップしたエラーを返す。
func LoadModel(model interface{}, filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.Wrapf(errors.ErrModelFileNotFound, "%s", filename)
		}
		return errors.Wrap(err, "failed to open file")
	}
	defer file.Close()

	return decodeModel(model, file)
}

func encodeModel(model interface{}, w io.Writer) error {
	encoder := gob.NewEncoder(w)
	if err := encoder.Encode(model); err != nil {
		return errors.Wrap(err, "failed to encode model")
	}
	return nil
}

func decodeModel(model interface{}, r io.Reader) error {
	decoder := gob.NewDecoder(r)
	if err := decoder.Decode(model); err != nil {
		return errors.Wrap(err, "failed to decode model")
	}
	return nil
}
