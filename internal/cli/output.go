package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
)

// Output печатает результаты команд: таблицей для людей, JSON-ом
// для скриптов. Данные идут в stdout, служебные сообщения в
// stderr, чтобы табличный вывод можно было передавать по pipe.
type Output struct {
	asJSON bool
	data   io.Writer
	msgs   io.Writer
}

// NewOutput создаёт Output. asJSON переключает вывод данных на JSON.
func NewOutput(asJSON bool) *Output {
	return &Output{asJSON: asJSON, data: os.Stdout, msgs: os.Stderr}
}

// Print выводит результат команды в выбранном формате. Пустой
// список в табличном режиме печатает подсказку вместо пустой
// таблицы.
func (o *Output) Print(headers []string, rows [][]string, raw any) {
	if o.asJSON {
		enc := json.NewEncoder(o.data)
		enc.SetIndent("", "  ")
		_ = enc.Encode(raw)
		return
	}
	if len(rows) == 0 {
		fmt.Fprintln(o.msgs, "no results")
		return
	}
	o.table(headers, rows)
}

func (o *Output) table(headers []string, rows [][]string) {
	tw := tabwriter.NewWriter(o.data, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	underline := make([]string, len(headers))
	for i, h := range headers {
		underline[i] = strings.Repeat("-", len(h))
	}
	fmt.Fprintln(tw, strings.Join(underline, "\t"))

	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	tw.Flush()
}

// Success выводит сообщение о выполненном действии в stderr.
func (o *Output) Success(msg string) {
	fmt.Fprintln(o.msgs, msg)
}
