package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWeekly_DefaultPlan(t *testing.T) {
	t.Parallel()
	b := NewCalculator(DefaultRates()).Weekly(DefaultPlan())

	assert.InDelta(t, 11.6928, b.EC2, 1e-9)      // 24h * 0.0116 * 6 * 7
	assert.InDelta(t, 1.575, b.NATGateway, 1e-9) // 5h * 0.045 * 7
	assert.InDelta(t, 1.575, b.NATData, 1e-9)    // 5 rotations * 0.045 * 7
	assert.InDelta(t, 0.0575, b.S3Storage, 1e-9)
	assert.InDelta(t, 0.09, b.S3DataOut, 1e-9)
	assert.InDelta(t, 14.9903, b.Total, 1e-9)
}

func TestWeekly(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(DefaultRates())

	tests := []struct {
		name string
		plan func(p *Plan)
		want float64
	}{
		{
			name: "no nat gateway",
			plan: func(p *Plan) { p.UseNATGateway = false },
			want: 11.6928 + 0.0575 + 0.09,
		},
		{
			name: "unknown instance type uses default rate",
			plan: func(p *Plan) { p.InstanceType = "m5.large" },
			want: 24*0.0134*6*7 + 1.575 + 1.575 + 0.0575 + 0.09,
		},
		{
			name: "single instance half day",
			plan: func(p *Plan) { p.EC2Instances = 1; p.EC2HoursPerDay = 12 },
			want: 12*0.0116*7 + 1.575 + 1.575 + 0.0575 + 0.09,
		},
		{
			name: "nothing running",
			plan: func(p *Plan) { *p = Plan{} },
			want: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPlan()
			tt.plan(&p)
			assert.InDelta(t, tt.want, calc.Weekly(p).Total, 1e-9)
		})
	}
}

func TestInstanceRate_NoDefaultEntry(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(Rates{EC2PerHour: map[string]float64{"t3.micro": 0.0116}})
	assert.Equal(t, 0.0116, calc.InstanceRate("t3.micro"))
	assert.Equal(t, DefaultInstanceRate, calc.InstanceRate("c6g.large"))
}

func TestSweep(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(DefaultRates())
	points := calc.Sweep(DefaultPlan(), 3)

	assert.Len(t, points, 3)
	perInstance := 24 * 0.0116 * 7
	for i, p := range points {
		assert.Equal(t, i+1, p.Instances)
		assert.InDelta(t, perInstance*float64(i+1)+1.575+1.575+0.0575+0.09, p.Total, 1e-9)
	}
	assert.Empty(t, calc.Sweep(DefaultPlan(), 0))
}
