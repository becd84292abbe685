package metrics

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/strokeguard/pkg/errors"
)

// logLossEpsilon は log(0) を避けるためのクリッピング幅
const logLossEpsilon = 1e-15

func checkPair(op string, yTrue, yPred *mat.VecDense) (int, error) {
	if yTrue == nil || yPred == nil {
		return 0, errors.NewValueError(op, "empty vector")
	}
	n := yTrue.Len()
	if n == 0 {
		return 0, errors.NewValueError(op, "empty vector")
	}
	if yPred.Len() != n {
		return 0, errors.NewDimensionError(op, n, yPred.Len(), 0)
	}
	return n, nil
}

func checkBinary(op string, y *mat.VecDense) error {
	for i := 0; i < y.Len(); i++ {
		if v := y.AtVec(i); v != 0 && v != 1 {
			return errors.NewValueError(op, fmt.Sprintf("labels must be 0 or 1, got %v", v))
		}
	}
	return nil
}

// Accuracy は正解率を計算する
func Accuracy(yTrue, yPred *mat.VecDense) (float64, error) {
	n, err := checkPair("Accuracy", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	correct := 0
	for i := 0; i < n; i++ {
		if yTrue.AtVec(i) == yPred.AtVec(i) {
			correct++
		}
	}
	return float64(correct) / float64(n), nil
}

// AUC は二値分類の ROC 曲線下面積を計算する
//
// yTrue は 0/1 のラベル、yScore は陽性クラスのスコア。
// 同点のスコアは 0.5 として数える（Mann-Whitney U 統計量）。
// 片方のクラスしか無い場合は定義できないため 0.5 を返す。
func AUC(yTrue, yScore *mat.VecDense) (float64, error) {
	n, err := checkPair("AUC", yTrue, yScore)
	if err != nil {
		return 0, err
	}
	if err := checkBinary("AUC", yTrue); err != nil {
		return 0, err
	}

	type pair struct {
		score float64
		label float64
	}
	pairs := make([]pair, n)
	nPos := 0
	for i := 0; i < n; i++ {
		pairs[i] = pair{yScore.AtVec(i), yTrue.AtVec(i)}
		if pairs[i].label == 1 {
			nPos++
		}
	}
	nNeg := n - nPos
	if nPos == 0 || nNeg == 0 {
		return 0.5, nil
	}

	sort.Slice(pairs, func(i, j int) bool { return pairs[i].score < pairs[j].score })

	// 同点グループには平均順位を割り当てる
	var rankSumPos float64
	for i := 0; i < n; {
		j := i
		for j < n && pairs[j].score == pairs[i].score {
			j++
		}
		avgRank := float64(i+j+1) / 2.0 // 1-based ranks i+1..j
		for k := i; k < j; k++ {
			if pairs[k].label == 1 {
				rankSumPos += avgRank
			}
		}
		i = j
	}

	u := rankSumPos - float64(nPos*(nPos+1))/2.0
	return u / float64(nPos*nNeg), nil
}

// BinaryLogLoss は二値分類の対数損失を計算する
// 予測確率は [eps, 1-eps] にクリッピングされる。
func BinaryLogLoss(yTrue, yProb *mat.VecDense) (float64, error) {
	n, err := checkPair("BinaryLogLoss", yTrue, yProb)
	if err != nil {
		return 0, err
	}
	if err := checkBinary("BinaryLogLoss", yTrue); err != nil {
		return 0, err
	}

	var sum float64
	for i := 0; i < n; i++ {
		p := math.Min(math.Max(yProb.AtVec(i), logLossEpsilon), 1-logLossEpsilon)
		if yTrue.AtVec(i) == 1 {
			sum -= math.Log(p)
		} else {
			sum -= math.Log(1 - p)
		}
	}
	return sum / float64(n), nil
}

// ConfusionMatrix は混同行列を計算する
//
// 行が正解ラベル、列が予測ラベルで、順序は labels に従う。
// labels に無いラベルは ValueError。
func ConfusionMatrix(yTrue, yPred *mat.VecDense, labels []int) (*mat.Dense, error) {
	n, err := checkPair("ConfusionMatrix", yTrue, yPred)
	if err != nil {
		return nil, err
	}
	if len(labels) == 0 {
		return nil, errors.NewValueError("ConfusionMatrix", "no labels")
	}
	index := make(map[int]int, len(labels))
	for i, l := range labels {
		index[l] = i
	}

	cm := mat.NewDense(len(labels), len(labels), nil)
	for i := 0; i < n; i++ {
		ti, ok1 := index[int(yTrue.AtVec(i))]
		pi, ok2 := index[int(yPred.AtVec(i))]
		if !ok1 || !ok2 {
			return nil, errors.NewValueError("ConfusionMatrix",
				fmt.Sprintf("label not in %v: true=%v pred=%v", labels, yTrue.AtVec(i), yPred.AtVec(i)))
		}
		cm.Set(ti, pi, cm.At(ti, pi)+1)
	}
	return cm, nil
}

// ROC は ROC 曲線の点列
type ROC struct {
	FPR        []float64
	TPR        []float64
	Thresholds []float64
}

// ROCCurve は二値分類の ROC 曲線を計算する
//
// スコアの降順に閾値を下げながら (FPR, TPR) を記録する。先頭は (0, 0) で
// 閾値は +Inf、同じスコアは一点にまとめる。
func ROCCurve(yTrue, yScore *mat.VecDense) (*ROC, error) {
	n, err := checkPair("ROCCurve", yTrue, yScore)
	if err != nil {
		return nil, err
	}
	if err := checkBinary("ROCCurve", yTrue); err != nil {
		return nil, err
	}

	idx := make([]int, n)
	nPos := 0
	for i := range idx {
		idx[i] = i
		if yTrue.AtVec(i) == 1 {
			nPos++
		}
	}
	nNeg := n - nPos
	sort.SliceStable(idx, func(a, b int) bool { return yScore.AtVec(idx[a]) > yScore.AtVec(idx[b]) })

	roc := &ROC{
		FPR:        []float64{0},
		TPR:        []float64{0},
		Thresholds: []float64{math.Inf(1)},
	}
	var tp, fp float64
	for k := 0; k < n; k++ {
		i := idx[k]
		if yTrue.AtVec(i) == 1 {
			tp++
		} else {
			fp++
		}
		// 同じスコアが続く間は点を出さない
		if k+1 < n && yScore.AtVec(idx[k+1]) == yScore.AtVec(i) {
			continue
		}
		roc.FPR = append(roc.FPR, ratio(fp, nNeg))
		roc.TPR = append(roc.TPR, ratio(tp, nPos))
		roc.Thresholds = append(roc.Thresholds, yScore.AtVec(i))
	}
	return roc, nil
}

func ratio(a float64, b int) float64 {
	if b == 0 {
		return 0
	}
	return a / float64(b)
}

// ClassScores はクラス別の適合率・再現率・F1・サポート
type ClassScores struct {
	Label     string  `json:"label"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1_score"`
	Support   int     `json:"support"`
}

// Report は分類レポート
type Report struct {
	Classes     []ClassScores `json:"classes"`
	Accuracy    float64       `json:"accuracy"`
	MacroAvg    ClassScores   `json:"macro_avg"`
	WeightedAvg ClassScores   `json:"weighted_avg"`
	Total       int           `json:"total"`
}

// ClassificationReport は混同行列からクラス別の指標を計算する
//
// names はラベルの表示名（labels と同じ順序）。定義できない比率は 0。
func ClassificationReport(yTrue, yPred *mat.VecDense, labels []int, names []string) (*Report, error) {
	if len(names) != len(labels) {
		return nil, errors.NewDimensionError("ClassificationReport", len(labels), len(names), 0)
	}
	cm, err := ConfusionMatrix(yTrue, yPred, labels)
	if err != nil {
		return nil, err
	}

	k := len(labels)
	report := &Report{Classes: make([]ClassScores, k)}
	var correct float64
	for i := 0; i < k; i++ {
		var rowSum, colSum float64
		for j := 0; j < k; j++ {
			rowSum += cm.At(i, j)
			colSum += cm.At(j, i)
		}
		tp := cm.At(i, i)
		correct += tp

		cs := ClassScores{Label: names[i], Support: int(rowSum)}
		if colSum > 0 {
			cs.Precision = tp / colSum
		}
		if rowSum > 0 {
			cs.Recall = tp / rowSum
		}
		if cs.Precision+cs.Recall > 0 {
			cs.F1 = 2 * cs.Precision * cs.Recall / (cs.Precision + cs.Recall)
		}
		report.Classes[i] = cs
		report.Total += cs.Support
	}
	report.Accuracy = correct / float64(report.Total)

	report.MacroAvg = ClassScores{Label: "macro avg", Support: report.Total}
	report.WeightedAvg = ClassScores{Label: "weighted avg", Support: report.Total}
	for _, cs := range report.Classes {
		w := float64(cs.Support) / float64(report.Total)
		report.MacroAvg.Precision += cs.Precision / float64(k)
		report.MacroAvg.Recall += cs.Recall / float64(k)
		report.MacroAvg.F1 += cs.F1 / float64(k)
		report.WeightedAvg.Precision += cs.Precision * w
		report.WeightedAvg.Recall += cs.Recall * w
		report.WeightedAvg.F1 += cs.F1 * w
	}
	return report, nil
}

// String はレポートを表形式のテキストにする
func (r *Report) String() string {
	width := len("weighted avg")
	for _, c := range r.Classes {
		if len(c.Label) > width {
			width = len(c.Label)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%*s %9s %9s %9s %9s\n\n", width, "", "precision", "recall", "f1-score", "support")
	for _, c := range r.Classes {
		fmt.Fprintf(&b, "%*s %9.2f %9.2f %9.2f %9d\n", width, c.Label, c.Precision, c.Recall, c.F1, c.Support)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "%*s %9s %9s %9.2f %9d\n", width, "accuracy", "", "", r.Accuracy, r.Total)
	for _, c := range []ClassScores{r.MacroAvg, r.WeightedAvg} {
		fmt.Fprintf(&b, "%*s %9.2f %9.2f %9.2f %9d\n", width, c.Label, c.Precision, c.Recall, c.F1, c.Support)
	}
	return b.String()
}
