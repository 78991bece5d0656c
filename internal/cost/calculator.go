// Package cost estimates the weekly AWS bill of running the ingestion on a
// fleet of small instances behind a NAT gateway.
package cost

// DefaultInstanceRate is charged for instance types missing from the rate table.
const DefaultInstanceRate = 0.0134

// Rates holds AWS pricing. Hourly and per-GB amounts are in USD.
type Rates struct {
	EC2PerHour        map[string]float64 `yaml:"ec2_per_hour" mapstructure:"ec2_per_hour"`
	NATGatewayPerHour float64            `yaml:"nat_gateway_per_hour" mapstructure:"nat_gateway_per_hour"`
	NATDataPerGB      float64            `yaml:"nat_data_per_gb" mapstructure:"nat_data_per_gb"`
	S3PerGBMonth      float64            `yaml:"s3_per_gb_month" mapstructure:"s3_per_gb_month"`
	S3DataOutPerGB    float64            `yaml:"s3_data_out_per_gb" mapstructure:"s3_data_out_per_gb"`
}

// Plan describes the infrastructure to price.
type Plan struct {
	EC2HoursPerDay    float64 `yaml:"ec2_hours_per_day" mapstructure:"ec2_hours_per_day"`
	EC2Instances      int     `yaml:"ec2_instances" mapstructure:"ec2_instances"`
	InstanceType      string  `yaml:"instance_type" mapstructure:"instance_type"`
	UseNATGateway     bool    `yaml:"use_nat_gateway" mapstructure:"use_nat_gateway"`
	NATHoursPerDay    float64 `yaml:"nat_hours_per_day" mapstructure:"nat_hours_per_day"`
	S3StorageGB       float64 `yaml:"s3_storage_gb" mapstructure:"s3_storage_gb"`
	DataOutGB         float64 `yaml:"data_out_gb" mapstructure:"data_out_gb"`
	IPRotationsPerDay int     `yaml:"ip_rotations_per_day" mapstructure:"ip_rotations_per_day"`
}

// Breakdown is a weekly cost split by line item.
type Breakdown struct {
	EC2        float64 `json:"ec2" yaml:"ec2"`
	NATGateway float64 `json:"nat_gateway" yaml:"nat_gateway"`
	NATData    float64 `json:"nat_data" yaml:"nat_data"`
	S3Storage  float64 `json:"s3_storage" yaml:"s3_storage"`
	S3DataOut  float64 `json:"s3_data_out" yaml:"s3_data_out"`
	Total      float64 `json:"total" yaml:"total"`
}

// Calculator computes costs for a plan.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// InstanceRate returns the hourly price of an instance type.
func (c *Calculator) InstanceRate(instanceType string) float64 {
	if r, ok := c.rates.EC2PerHour[instanceType]; ok {
		return r
	}
	if r, ok := c.rates.EC2PerHour["default"]; ok {
		return r
	}
	return DefaultInstanceRate
}

// Weekly prices one week of the plan. Each IP rotation is assumed to push
// 1 GB through the NAT gateway, and a month counts as four weeks.
func (c *Calculator) Weekly(p Plan) Breakdown {
	var b Breakdown
	b.EC2 = p.EC2HoursPerDay * c.InstanceRate(p.InstanceType) * float64(p.EC2Instances) * 7
	if p.UseNATGateway {
		b.NATGateway = p.NATHoursPerDay * c.rates.NATGatewayPerHour * 7
		b.NATData = float64(p.IPRotationsPerDay) * c.rates.NATDataPerGB * 7
	}
	b.S3Storage = p.S3StorageGB * c.rates.S3PerGBMonth / 4
	b.S3DataOut = p.DataOutGB * c.rates.S3DataOutPerGB
	b.Total = b.EC2 + b.NATGateway + b.NATData + b.S3Storage + b.S3DataOut
	return b
}

// SweepPoint is the weekly total for a given fleet size.
type SweepPoint struct {
	Instances int     `json:"instances" yaml:"instances"`
	Total     float64 `json:"total" yaml:"total"`
}

// Sweep prices the plan for 1..maxInstances instances.
func (c *Calculator) Sweep(p Plan, maxInstances int) []SweepPoint {
	out := make([]SweepPoint, 0, maxInstances)
	for n := 1; n <= maxInstances; n++ {
		p.EC2Instances = n
		out = append(out, SweepPoint{Instances: n, Total: c.Weekly(p).Total})
	}
	return out
}

// DefaultRates returns the AWS rates the estimate was calibrated on.
func DefaultRates() Rates {
	return Rates{
		EC2PerHour: map[string]float64{
			"t3.micro": 0.0116,
			"default":  DefaultInstanceRate,
		},
		NATGatewayPerHour: 0.045,
		NATDataPerGB:      0.045,
		S3PerGBMonth:      0.023,
		S3DataOutPerGB:    0.09,
	}
}

// DefaultPlan is six t3.micro instances running all day with a NAT gateway
// up five hours a day.
func DefaultPlan() Plan {
	return Plan{
		EC2HoursPerDay:    24,
		EC2Instances:      6,
		InstanceType:      "t3.micro",
		UseNATGateway:     true,
		NATHoursPerDay:    5,
		S3StorageGB:       10,
		DataOutGB:         1,
		IPRotationsPerDay: 5,
	}
}
